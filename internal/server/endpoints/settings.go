package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/config"
	"github.com/jackzampolin/castwright/internal/svcctx"
)

// Setting is one effective config value next to its default.
type Setting struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Default     any    `json:"default"`
	Description string `json:"description"`
}

// SettingsResponse lists effective settings sorted by key.
type SettingsResponse struct {
	File     string    `json:"file,omitempty"`
	Home     string    `json:"home,omitempty"`
	Settings []Setting `json:"settings"`
}

func (s SettingsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, len(s.Settings))
	for i, st := range s.Settings {
		rows[i] = []string{st.Key, fmt.Sprint(st.Value), fmt.Sprint(st.Default)}
	}
	return []string{"KEY", "VALUE", "DEFAULT"}, rows
}

// redact hides literal secrets but keeps ${ENV_VAR} references visible.
func redact(key string, v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasSuffix(key, "api_key") || s == "" || strings.HasPrefix(s, "${") {
		return v
	}
	return "********"
}

func settings(mgr *config.Manager, prefix string) ([]Setting, error) {
	var out []Setting
	for _, e := range config.DefaultEntries() {
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		v, err := mgr.Value(e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, Setting{
			Key:         e.Key,
			Value:       redact(e.Key, v),
			Default:     e.Value,
			Description: e.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return false }

func (e *ListSettingsEndpoint) Group() string { return "settings" }

// handler godoc
//
//	@Summary		List settings
//	@Description	Effective configuration with defaults. Literal API keys are redacted.
//	@Tags			settings
//	@Produce		json
//	@Param			prefix	query		string	false	"Only keys with this prefix"
//	@Success		200		{object}	SettingsResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.ConfigFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "config not available")
		return
	}
	list, err := settings(mgr, r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := SettingsResponse{File: mgr.File(), Settings: list}
	if h := svcctx.HomeFrom(r.Context()); h != nil {
		resp.Home = h.Path()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/settings"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only keys with this prefix, e.g. pipeline.")
	return cmd
}

// GetSettingEndpoint handles GET /api/settings/{key}.
type GetSettingEndpoint struct{}

func (e *GetSettingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings/{key}", e.handler
}

func (e *GetSettingEndpoint) RequiresInit() bool { return false }

func (e *GetSettingEndpoint) Group() string { return "settings" }

// handler godoc
//
//	@Summary		Get a setting
//	@Tags			settings
//	@Produce		json
//	@Param			key	path		string	true	"Setting key, e.g. pipeline.chunk_size"
//	@Success		200	{object}	Setting
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/settings/{key} [get]
func (e *GetSettingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.ConfigFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "config not available")
		return
	}
	key := r.PathValue("key")
	if err := config.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def := config.GetDefault(key)
	if def == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown setting %q", key))
		return
	}
	v, err := mgr.Value(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Setting{Key: key, Value: redact(key, v), Default: def.Value, Description: def.Description})
}

func (e *GetSettingEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get one effective setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Setting
			if err := client.Get(cmd.Context(), "/api/settings/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
