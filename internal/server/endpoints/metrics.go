package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
)

// MetricsEndpoint exposes the Prometheus registry.
type MetricsEndpoint struct {
	Handler http.Handler
}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Prometheus metrics
//	@Tags		health
//	@Produce	plain
//	@Success	200	{string}	string
//	@Router		/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if e.Handler == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not configured")
		return
	}
	e.Handler.ServeHTTP(w, r)
}

func (e *MetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Dump the server's Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			text, err := client.GetText(cmd.Context(), "/metrics")
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}
