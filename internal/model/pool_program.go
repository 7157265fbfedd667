package model

// PoolProgram identifies one AMM program venue and the endpoint serving its quotes.
type PoolProgram struct {
	ID       string `json:"id" mapstructure:"id"`
	Name     string `json:"name" mapstructure:"name"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// ShortID returns a display-friendly prefix of the program id.
func (p PoolProgram) ShortID() string {
	if len(p.ID) <= 20 {
		return p.ID
	}
	return p.ID[:20]
}
