package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/podcast"
	"github.com/jackzampolin/castwright/internal/svcctx"
)

const topicsGroup = "topics"

// maxRequestBody bounds POST /api/topics bodies.
const maxRequestBody = 1 << 20

func topicPath(topicID string, rest ...string) string {
	p := "/api/topics/" + url.PathEscape(topicID)
	for _, s := range rest {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// pipelineFrom returns the pipeline service or writes 503.
func pipelineFrom(w http.ResponseWriter, r *http.Request) *podcast.Service {
	svc := svcctx.PipelineFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
	}
	return svc
}

// StartTopicEndpoint handles POST /api/topics.
type StartTopicEndpoint struct{}

func (e *StartTopicEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics", e.handler
}

func (e *StartTopicEndpoint) RequiresInit() bool { return true }

func (e *StartTopicEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Start a topic
//	@Description	Validate a topic request and record it at ACCEPTED
//	@Tags			topics
//	@Accept			json
//	@Produce		json
//	@Param			request	body		podcast.TopicRequest	true	"Topic request"
//	@Success		201		{object}	podcast.StartResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/topics [post]
func (e *StartTopicEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := podcast.DecodeTopicRequest(raw)
	if err != nil {
		writeOpError(w, err)
		return
	}

	res, err := svc.StartTopic(r.Context(), *req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (e *StartTopicEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req podcast.TopicRequest
	var difficulty string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new topic",
		Long: `Submit a topic request. The server validates it and records the topic at ACCEPTED.

Categories:
  Technical & Programming, Mathematics and Algorithms, Science & Engineering,
  History & Social Studies, Creative Writing & Literature, Health & Medicine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Difficulty = pipeline.Difficulty(difficulty)
			client := api.NewClient(getServerURL())
			var resp podcast.StartResult
			if err := client.Post(cmd.Context(), "/api/topics", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Category, "category", "", "Topic category")
	cmd.Flags().StringVar(&req.Title, "title", "", "Podcast title")
	cmd.Flags().StringVar(&req.Description, "description", "", "What the podcast covers")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(pipeline.DifficultyIntermediate), "BEGINNER, INTERMEDIATE or ADVANCED")
	cmd.Flags().IntVar(&req.Chapters, "chapters", 3, "Number of chapters")
	cmd.MarkFlagRequired("category")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("description")
	return cmd
}

// TopicStatusResponse is the ledger record plus the accepted request.
type TopicStatusResponse struct {
	*pipeline.Status
	Topic   *pipeline.Topic `json:"topic,omitempty"`
	Running bool            `json:"running"`
}

// Table renders the synthesis jobs, or a per-unit summary before dispatch.
func (s TopicStatusResponse) Table() ([]string, [][]string) {
	if s.Status == nil {
		return nil, nil
	}
	if len(s.SynthesisJobs) > 0 {
		return jobsTable(s.SynthesisJobs)
	}
	header := []string{"TOPIC", "STAGE", "INTRO", "CHAPTERS DONE", "FAILURE"}
	done := 0
	for _, ok := range s.ChaptersComplete {
		if ok {
			done++
		}
	}
	chapters := strconv.Itoa(done)
	if s.Topic != nil {
		chapters = fmt.Sprintf("%d/%d", done, s.Topic.Chapters)
	}
	return header, [][]string{{
		s.TopicID, string(s.Stage), strconv.FormatBool(s.IntroComplete), chapters, s.FailureReason,
	}}
}

func jobsTable(jobs []pipeline.SynthesisJob) ([]string, [][]string) {
	header := []string{"UNIT", "CHUNK", "JOB", "STATUS", "OUTPUT"}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{j.UnitKey, strconv.Itoa(j.ChunkIndex), j.JobID, string(j.Status), j.OutputKey})
	}
	return header, rows
}

// TopicStatusEndpoint handles GET /api/topics/{topic_id}.
type TopicStatusEndpoint struct{}

func (e *TopicStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/topics/{topic_id}", e.handler
}

func (e *TopicStatusEndpoint) RequiresInit() bool { return true }

func (e *TopicStatusEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Get topic status
//	@Description	Full ledger record for a topic, including every synthesis job
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Success		200			{object}	TopicStatusResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id} [get]
func (e *TopicStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	id := r.PathValue("topic_id")

	st, err := svc.Status(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	topic, err := svc.Topic(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	resp := TopicStatusResponse{Status: st, Topic: topic}
	if runner := svcctx.RunnerFrom(r.Context()); runner != nil {
		resp.Running = runner.Running(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *TopicStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <topic_id>",
		Short: "Show a topic's ledger record",
		Long: `Show a topic's ledger record.

With -o table the synthesis jobs are listed one per row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp TopicStatusResponse
			if err := client.Get(cmd.Context(), topicPath(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
