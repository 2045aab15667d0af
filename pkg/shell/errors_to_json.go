package shell

import (
	"encoding/json"

	"src.xyfit.dev/pkg/diag"
)

// An auxiliary struct for converting errors with diagnostics information to JSON.
type errorInJSON struct {
	FileName string `json:"fileName"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Message  string `json:"message"`
}

// Converts the syntax errors in err into a JSON array; nil is an empty array.
func errorsToJSON(err error) []byte {
	errs := []errorInJSON{}
	for _, e := range diag.UnpackErrors[diag.SyntaxTag](err) {
		errs = append(errs, errorInJSON{e.Context.Name, e.Context.From, e.Context.To, e.Message})
	}
	jsonError, errMarshal := json.Marshal(errs)
	if errMarshal != nil {
		return []byte(`[{"message":"Unable to convert the errors to JSON"}]`)
	}
	return jsonError
}
