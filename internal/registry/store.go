package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"nhaguard/internal/domain"
)

// FileStore reads control descriptors from <Dir>/<controlID>.yaml.
type FileStore struct {
	Dir string
}

func (s FileStore) FetchControl(ctx context.Context, controlID string) (domain.ControlDescriptor, error) {
	path := filepath.Join(s.Dir, controlID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ControlDescriptor{}, fmt.Errorf("control %s: %w", controlID, ErrUnknownControl)
		}
		return domain.ControlDescriptor{}, err
	}
	var desc domain.ControlDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return domain.ControlDescriptor{}, fmt.Errorf("control %s: invalid descriptor yaml: %w", controlID, err)
	}
	if desc.ControlID == "" {
		desc.ControlID = controlID
	}
	return desc, nil
}

// BuiltinStore serves the embedded default control set.
type BuiltinStore struct{}

func (BuiltinStore) FetchControl(ctx context.Context, controlID string) (domain.ControlDescriptor, error) {
	desc, ok := builtinControls[controlID]
	if !ok {
		return domain.ControlDescriptor{}, fmt.Errorf("control %s: %w", controlID, ErrUnknownControl)
	}
	return desc, nil
}

// FallbackStore tries each store in order; the first that resolves the
// control wins. Descriptor files take precedence over the builtin set.
type FallbackStore []Store

func (s FallbackStore) FetchControl(ctx context.Context, controlID string) (domain.ControlDescriptor, error) {
	var lastErr error = fmt.Errorf("control %s: %w", controlID, ErrUnknownControl)
	for _, store := range s {
		desc, err := store.FetchControl(ctx, controlID)
		if err == nil {
			return desc, nil
		}
		lastErr = err
	}
	return domain.ControlDescriptor{}, lastErr
}

// DefaultControlID is the single control shipped with the binary.
const DefaultControlID = "C-305377"

var builtinControls = map[string]domain.ControlDescriptor{
	DefaultControlID: {
		ControlID:   DefaultControlID,
		Name:        "Non-Human Account Inventory and Password Validation",
		Description: "Comprehensive validation of non-human account inventory and password compliance across all applications.",
		Instruction: "Validate non-human account registration, password construction (16+ characters, 3+ character types, cryptographically protected storage, history restrictions) and password rotation requirements by account interaction type.",
		Questions: []domain.QuestionSpec{
			{Key: "Q1", Phase: "Application NHA Identification"},
			{Key: "Q2", Phase: "ESAR Registration Validation"},
			{Key: "Q3", Phase: "Password Construction Compliance (NHA-315-01)"},
			{Key: "Q4", Phase: "Password Rotation Compliance (NHA-315-11)"},
		},
	},
}
