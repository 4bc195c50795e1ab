package endpoints

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/svcctx"
)

// RunTopicResponse acknowledges a background run.
type RunTopicResponse struct {
	TopicID string         `json:"topic_id"`
	Stage   pipeline.Stage `json:"stage"`
	Status  string         `json:"status"`
}

// RunTopicEndpoint handles POST /api/topics/{topic_id}/run.
type RunTopicEndpoint struct{}

func (e *RunTopicEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics/{topic_id}/run", e.handler
}

func (e *RunTopicEndpoint) RequiresInit() bool { return true }

func (e *RunTopicEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Run a topic end to end
//	@Description	Start a background run: generate content, dispatch every unit, poll until converged, stitch every unit. One run per topic at a time.
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Success		202			{object}	RunTopicResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/run [post]
func (e *RunTopicEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	runner := svcctx.RunnerFrom(r.Context())
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow runner not initialized")
		return
	}

	id := r.PathValue("topic_id")
	st, err := svc.Status(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if st.Stage == pipeline.StageFailed {
		writeError(w, http.StatusConflict, "topic has failed: "+st.FailureReason)
		return
	}

	// the run outlives the request; Runner.Stop cancels it on shutdown
	if err := runner.Start(context.WithoutCancel(r.Context()), id); err != nil {
		writeOpError(w, err)
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("background run started", "topic_id", id, "stage", st.Stage)
	writeJSON(w, http.StatusAccepted, RunTopicResponse{TopicID: id, Stage: st.Stage, Status: "running"})
}

func (e *RunTopicEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <topic_id>",
		Short: "Run every pipeline step for a topic in the background",
		Long: `Run every pipeline step for a topic in the background.

Follow progress with: castwright api topics status <topic_id> -o table`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RunTopicResponse
			if err := client.Post(cmd.Context(), topicPath(args[0], "run"), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
