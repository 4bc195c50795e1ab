package content

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
)

const unitExt = ".json"

// Unit is the stored form of one generated content unit.
type Unit struct {
	Content string `json:"content"`
}

// UnitKey returns the content store key for a unit.
func UnitKey(topicID, unitKey string) string {
	return topicID + "/" + unitKey + unitExt
}

// Save persists a unit's text. Units are written once: saving over an
// existing unit fails with objstore.ErrExists.
func Save(ctx context.Context, store objstore.Store, topicID, unitKey, text string) error {
	data, err := json.Marshal(Unit{Content: text})
	if err != nil {
		return fmt.Errorf("encode %s: %w", unitKey, err)
	}
	if err := store.Create(ctx, UnitKey(topicID, unitKey), data); err != nil {
		return fmt.Errorf("store %s: %w", unitKey, err)
	}
	return nil
}

// Load reads a unit's text.
func Load(ctx context.Context, store objstore.Store, topicID, unitKey string) (string, error) {
	if !pipeline.ValidUnitKey(unitKey) {
		return "", &pipeline.ValidationError{Field: "unit_key", Reason: fmt.Sprintf("invalid unit key %q", unitKey)}
	}
	data, err := store.Get(ctx, UnitKey(topicID, unitKey))
	if err != nil {
		return "", fmt.Errorf("load %s: %w", unitKey, err)
	}
	var u Unit
	if err := json.Unmarshal(data, &u); err != nil {
		return "", fmt.Errorf("decode %s: %w", unitKey, err)
	}
	return u.Content, nil
}

// ListUnits returns the unit keys persisted for a topic, intro first then
// chapters in numeric order.
func ListUnits(ctx context.Context, store objstore.Store, topicID string) ([]string, error) {
	keys, err := store.List(ctx, topicID+"/")
	if err != nil {
		return nil, fmt.Errorf("list content for %s: %w", topicID, err)
	}
	var units []string
	for _, k := range keys {
		name, ok := strings.CutSuffix(path.Base(k), unitExt)
		if !ok || path.Dir(k) != topicID || !pipeline.ValidUnitKey(name) {
			continue
		}
		units = append(units, name)
	}
	if len(units) == 0 {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: "no content units found"}
	}
	pipeline.SortUnitKeys(units)
	return units, nil
}
