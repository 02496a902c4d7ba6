package utils

// ResponseData is the uniform REST envelope.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded corta el handler; el middleware de recovery traduce el
// panic a la respuesta HTTP.
func PanicIfNeeded(err any, message ...string) {
	if err == nil {
		return
	}
	if len(message) > 0 && message[0] != "" {
		panic(message[0])
	}
	panic(err)
}
