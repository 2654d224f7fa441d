package models

// Journal is the read-only per-site configuration a submission is bound to.
type Journal struct {
	Code     string `json:"code"`
	Active   bool   `json:"active"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Compiler string `json:"compiler"`
	Volume   int    `json:"volume"`
	Year     int    `json:"year"`
	Issue    int    `json:"issue"`
}
