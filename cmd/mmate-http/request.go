package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	mmate "github.com/glimte/mmate-http"
	"github.com/glimte/mmate-http/contracts"
)

func newRequestCommand(g *globals) *cobra.Command {
	var (
		data         string
		headers      []string
		params       []string
		responseType string
		progress     bool
	)

	cmd := &cobra.Command{
		Use:   "request METHOD URL",
		Short: "Send a request through the configured chain",
		Long:  "Send a request through the configured backend and interceptors and print every event it produces.",
		Example: `  mmate-http request GET https://api.example.com/users
  mmate-http request POST /orders --data '{"sku":"A-1"}' --header "X-Tenant: acme"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			opts := []mmate.ClientOption{
				mmate.WithLogger(rt.logger),
				mmate.WithConfig(rt.cfg),
				mmate.WithTracer(rt.tracer),
				mmate.WithJournal(rt.journal),
			}
			if rt.collector != nil {
				opts = append(opts, mmate.WithMetrics(rt.collector))
			}

			client, err := mmate.NewClient(opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			reqOpts, err := requestOptions(headers, params)
			if err != nil {
				return err
			}
			reqOpts = append(reqOpts, contracts.WithReportProgress(progress))
			if responseType != "" {
				reqOpts = append(reqOpts, contracts.WithResponseType(contracts.ResponseType(responseType)))
			}

			var body any
			if data != "" {
				body = requestBody(data)
			}

			req := contracts.NewRequest(strings.ToUpper(args[0]), args[1], body, reqOpts...)
			out := cmd.OutOrStdout()
			return client.Request(req)(cmd.Context(), func(event contracts.Event) error {
				return printEvent(out, event)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body; JSON is sent as JSON, anything else as text")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Header as 'Name: value' (repeatable)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter as 'name=value' (repeatable)")
	cmd.Flags().StringVar(&responseType, "response-type", "", "Response type: json, text, blob or arraybuffer")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report upload and download progress")

	return cmd
}

// requestBody keeps valid JSON structured so the body is sent as application/json
func requestBody(data string) any {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err == nil {
		return v
	}
	return data
}

func requestOptions(headers, params []string) ([]contracts.RequestOption, error) {
	var opts []contracts.RequestOption

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		opts = append(opts, contracts.SetHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}

	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid query parameter %q, expected 'name=value'", p)
		}
		opts = append(opts, contracts.SetParam(name, value))
	}

	return opts, nil
}

func printEvent(w io.Writer, event contracts.Event) error {
	var err error
	switch e := event.(type) {
	case contracts.SentEvent:
		_, err = fmt.Fprintln(w, "> sent")
	case contracts.ProgressEvent:
		if e.Total > 0 {
			_, err = fmt.Fprintf(w, "> %s %d/%d\n", e.EventType(), e.Loaded, e.Total)
		} else {
			_, err = fmt.Fprintf(w, "> %s %d\n", e.EventType(), e.Loaded)
		}
	case contracts.HeaderResponse:
		_, err = fmt.Fprintf(w, "< %d %s\n", e.Status, e.StatusText)
	case *contracts.Response:
		if _, err = fmt.Fprintf(w, "< %d %s\n", e.Status, e.StatusText); err != nil {
			return err
		}
		err = printBody(w, e.Body)
	case contracts.UserEvent:
		_, err = fmt.Fprintf(w, "* %s %v\n", e.Name, e.Payload)
	default:
		_, err = fmt.Fprintf(w, "? %v\n", event)
	}
	return err
}

func printBody(w io.Writer, body any) error {
	switch b := body.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, b)
		return err
	case []byte:
		_, err := fmt.Fprintf(w, "(%d bytes)\n", len(b))
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
}
