package model

// ServiceCodeMapping maps a normalized PIMS service code to the
// recommendation it fulfils. Rows live in vet.service_code_map and are loaded
// into the matching engine at startup.
type ServiceCodeMapping struct {
	CodeNorm string // normalized code, e.g. "LABHW"
	RecoName string // canonical recommendation name, e.g. "Heartworm Test"
	Category string // recommendation category, e.g. "lab"
}
