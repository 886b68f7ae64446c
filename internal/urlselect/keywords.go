package urlselect

// Keyword relevance tables. Weights follow the bilingual action/domain
// vocabulary the scorer was tuned on (Portuguese-heavy legal corpora plus
// generic CRUD English).

type keyword struct {
	term   string
	weight float64
}

var keywordTable = []keyword{
	// Search vocabulary.
	{"search", 15}, {"pesquisa", 15}, {"buscar", 14}, {"consulta", 12},
	{"query", 12}, {"find", 12}, {"recherche", 12}, {"suche", 12}, {"cerca", 12},

	// Legal domain.
	{"jurisprudencia", 18},
	{"decisao", 15}, {"acordao", 15}, {"sentenca", 15},
	{"julgamento", 12}, {"tribunal", 12},
	{"processo", 10},

	// CRUD verbs.
	{"create", 8}, {"update", 8}, {"delete", 8}, {"edit", 8}, {"save", 8},
	{"criar", 8}, {"atualizar", 8}, {"excluir", 8}, {"salvar", 8},

	// Retrieval verbs.
	{"get", 6}, {"list", 6}, {"fetch", 6}, {"load", 6},
	{"listar", 6}, {"obter", 6},

	// Document actions.
	{"download", 7}, {"upload", 7}, {"documento", 6}, {"document", 6},
	{"pdf", 6}, {"print", 5},

	// Authentication.
	{"login", 6}, {"signin", 6}, {"auth", 5}, {"token", 5}, {"logout", 4},
}

// secondaryActions are deprioritized unless the prompt asks for them:
// a "copy" or "export" endpoint next to the real action is usually noise.
var secondaryActions = []string{"copy", "copiar", "duplicate", "share", "export"}

// creationVerbs bias the method score toward POST.
var creationVerbs = []string{
	"create", "add", "submit", "send", "post", "register",
	"criar", "adicionar", "enviar", "cadastrar",
}

// searchVerbs bias the method score toward GET.
var searchVerbs = []string{
	"search", "find", "list", "get", "fetch", "view", "show",
	"pesquisa", "pesquisar", "buscar", "consulta", "consultar", "listar", "ver",
}
