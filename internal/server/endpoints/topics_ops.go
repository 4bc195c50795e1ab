package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/content"
	"github.com/jackzampolin/castwright/internal/stitch"
	"github.com/jackzampolin/castwright/internal/synthesis"
)

// GenerateContentEndpoint handles POST /api/topics/{topic_id}/content.
type GenerateContentEndpoint struct{}

func (e *GenerateContentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics/{topic_id}/content", e.handler
}

func (e *GenerateContentEndpoint) RequiresInit() bool { return true }

func (e *GenerateContentEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Generate content
//	@Description	Generate the intro and every chapter, resuming from the last persisted unit. A provider failure is reported with ok=false and fails the topic.
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Success		200			{object}	content.Result
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/content [post]
func (e *GenerateContentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	res, err := svc.GenerateContent(r.Context(), r.PathValue("topic_id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *GenerateContentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "content <topic_id>",
		Short: "Generate the intro and chapters for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp content.Result
			if err := client.Post(cmd.Context(), topicPath(args[0], "content"), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UnitsResponse lists a topic's content units in order.
type UnitsResponse struct {
	TopicID string   `json:"topic_id"`
	Units   []string `json:"units"`
}

func (u UnitsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, len(u.Units))
	for i, unit := range u.Units {
		rows[i] = []string{unit}
	}
	return []string{"UNIT"}, rows
}

// ListUnitsEndpoint handles GET /api/topics/{topic_id}/units.
type ListUnitsEndpoint struct{}

func (e *ListUnitsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/topics/{topic_id}/units", e.handler
}

func (e *ListUnitsEndpoint) RequiresInit() bool { return true }

func (e *ListUnitsEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		List content units
//	@Description	Persisted content units, intro first then chapters in order
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Success		200			{object}	UnitsResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/units [get]
func (e *ListUnitsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	id := r.PathValue("topic_id")
	units, err := svc.ListContentUnits(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnitsResponse{TopicID: id, Units: units})
}

func (e *ListUnitsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "units <topic_id>",
		Short: "List a topic's content units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UnitsResponse
			if err := client.Get(cmd.Context(), topicPath(args[0], "units"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DispatchResponse wraps a dispatch result with a job table.
type DispatchResponse struct {
	*synthesis.DispatchResult
}

func (d DispatchResponse) Table() ([]string, [][]string) {
	if d.DispatchResult == nil {
		return nil, nil
	}
	return jobsTable(d.Jobs)
}

// DispatchEndpoint handles POST /api/topics/{topic_id}/units/{unit_key}/dispatch.
type DispatchEndpoint struct{}

func (e *DispatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics/{topic_id}/units/{unit_key}/dispatch", e.handler
}

func (e *DispatchEndpoint) RequiresInit() bool { return true }

func (e *DispatchEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Dispatch synthesis for a unit
//	@Description	Chunk the unit's text and submit one synthesis job per chunk. A unit that was already dispatched returns its existing jobs.
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Param			unit_key	path		string	true	"intro or chapter_N"
//	@Success		200			{object}	synthesis.DispatchResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/units/{unit_key}/dispatch [post]
func (e *DispatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	res, err := svc.DispatchSynthesis(r.Context(), r.PathValue("topic_id"), r.PathValue("unit_key"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *DispatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <topic_id> <unit_key>",
		Short: "Submit synthesis jobs for one unit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp synthesis.DispatchResult
			if err := client.Post(cmd.Context(), topicPath(args[0], "units", args[1], "dispatch"), nil, &resp); err != nil {
				return err
			}
			return api.Output(DispatchResponse{&resp})
		},
	}
}

// PollResponse wraps a poll result with a job table.
type PollResponse struct {
	*synthesis.PollResult
}

func (p PollResponse) Table() ([]string, [][]string) {
	if p.PollResult == nil {
		return nil, nil
	}
	return jobsTable(p.Jobs)
}

// PollEndpoint handles POST /api/topics/{topic_id}/poll.
type PollEndpoint struct{}

func (e *PollEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics/{topic_id}/poll", e.handler
}

func (e *PollEndpoint) RequiresInit() bool { return true }

func (e *PollEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Poll synthesis jobs
//	@Description	Query every non-terminal job once and report whether the topic converged
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Success		200			{object}	synthesis.PollResult
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/poll [post]
func (e *PollEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	res, err := svc.PollConvergence(r.Context(), r.PathValue("topic_id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *PollEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <topic_id>",
		Short: "Poll a topic's synthesis jobs once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp synthesis.PollResult
			if err := client.Post(cmd.Context(), topicPath(args[0], "poll"), nil, &resp); err != nil {
				return err
			}
			return api.Output(PollResponse{&resp})
		},
	}
}

// StitchResponse reports a stitch result and whether it completed the topic.
type StitchResponse struct {
	*stitch.Result
	Completed bool `json:"completed"`
}

// StitchEndpoint handles POST /api/topics/{topic_id}/units/{unit_key}/stitch.
type StitchEndpoint struct{}

func (e *StitchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/topics/{topic_id}/units/{unit_key}/stitch", e.handler
}

func (e *StitchEndpoint) RequiresInit() bool { return true }

func (e *StitchEndpoint) Group() string { return topicsGroup }

// handler godoc
//
//	@Summary		Stitch a unit's audio
//	@Description	Join a unit's audio parts into one file. The last unit to finish moves the topic to COMPLETED.
//	@Tags			topics
//	@Produce		json
//	@Param			topic_id	path		string	true	"Topic ID"
//	@Param			unit_key	path		string	true	"intro or chapter_N"
//	@Success		200			{object}	StitchResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/topics/{topic_id}/units/{unit_key}/stitch [post]
func (e *StitchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := pipelineFrom(w, r)
	if svc == nil {
		return
	}
	res, err := svc.StitchAudio(r.Context(), r.PathValue("topic_id"), r.PathValue("unit_key"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StitchResponse{Result: res, Completed: res.Completed})
}

func (e *StitchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stitch <topic_id> <unit_key>",
		Short: "Join one unit's audio parts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StitchResponse
			if err := client.Post(cmd.Context(), topicPath(args[0], "units", args[1], "stitch"), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
