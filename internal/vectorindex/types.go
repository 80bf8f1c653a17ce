package vectorindex

// Result is one search hit returned by the index.
type Result struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score"`
	Distance *float64               `json:"distance,omitempty"`
	Vector   []float32              `json:"vector,omitempty"`
}

// ItemError reports a single rejected object inside an otherwise
// accepted batch.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Wire types for the index HTTP API.

type indexObject struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
	Vector []float32              `json:"vector,omitempty"`
}

type batchRequest struct {
	Objects []indexObject `json:"objects"`
}

type batchResponse struct {
	OK     int         `json:"ok"`
	Errors []ItemError `json:"errors,omitempty"`
}

type updateRequest struct {
	Fields map[string]interface{} `json:"fields,omitempty"`
	Vector []float32              `json:"vector,omitempty"`
}

type semanticRequest struct {
	Vector     []float32 `json:"vector"`
	Limit      int       `json:"limit"`
	MinScore   float64   `json:"min_score,omitempty"`
	Properties []string  `json:"properties,omitempty"`
}

type hybridRequest struct {
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector,omitempty"`
	Limit      int       `json:"limit"`
	Alpha      float64   `json:"alpha"`
	Properties []string  `json:"properties,omitempty"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}
