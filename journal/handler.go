package journal

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves entries as JSON. ?request=ID lists one request,
// ?component=NAME&limit=N the latest entries of a component, and no query the
// journal statistics.
func Handler(j *Journal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		var body any
		switch {
		case q.Get("request") != "":
			body = j.ByRequest(q.Get("request"))
		case q.Get("component") != "":
			limit := 0
			if raw := q.Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			body = j.ByComponent(q.Get("component"), limit)
		default:
			body = j.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(body)
	})
}
