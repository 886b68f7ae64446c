package classifier

import "fmt"

// ValidationReport partitions a classification set into well-formed and
// broken entries, with advisory warnings for the shaky ones.
type ValidationReport struct {
	Valid    []Classified
	Invalid  []Classified
	Warnings []string
}

// Validate checks a classification set. A parameter is invalid if it lacks
// a name, value, or classification; warnings flag confidence below 0.3 and
// dynamic parameters the pipeline was not sure about.
func Validate(classified []Classified) ValidationReport {
	var report ValidationReport
	for _, cl := range classified {
		if cl.Name == "" || cl.Value == "" || cl.Classification == "" {
			report.Invalid = append(report.Invalid, cl)
			continue
		}
		report.Valid = append(report.Valid, cl)

		if cl.Confidence < 0.3 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("parameter %q classified %s at very low confidence %.2f", cl.Name, cl.Classification, cl.Confidence))
		}
		if cl.Classification == Dynamic && cl.Confidence < 0.7 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("dynamic parameter %q below 0.7 confidence; resolution may fail at runtime", cl.Name))
		}
	}
	return report
}
