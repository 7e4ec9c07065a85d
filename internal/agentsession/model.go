package agentsession

import (
	"context"
	"fmt"
	"strings"

	"imessage-codex-bridge/internal/store"
)

// SetModel implements spec §4.3.5's setModel: enforce the configured
// prefix, persist, and return the effective effort from the per-model
// map (default SPARK -> xhigh, others -> medium).
func (m *Manager) SetModel(ctx context.Context, model string) (effort string, err error) {
	if !strings.HasPrefix(model, m.modelPrefix) {
		return "", fmt.Errorf("agentsession: model %q does not start with required prefix %q", model, m.modelPrefix)
	}
	if err := m.store.SetSessionModel(ctx, m.phoneNumber, model); err != nil {
		return "", err
	}
	return m.effortFor(ctx, model), nil
}

// SetModelWithEffort implements setModelWithEffort.
func (m *Manager) SetModelWithEffort(ctx context.Context, model, effort string) error {
	if !strings.HasPrefix(model, m.modelPrefix) {
		return fmt.Errorf("agentsession: model %q does not start with required prefix %q", model, m.modelPrefix)
	}
	if !effortLevels[effort] {
		return fmt.Errorf("agentsession: invalid effort %q", effort)
	}
	if err := m.store.SetSessionModel(ctx, m.phoneNumber, model); err != nil {
		return err
	}
	return m.setEffortFor(ctx, model, effort)
}

// SetEffortForCurrentModel implements setEffortForCurrentModel.
func (m *Manager) SetEffortForCurrentModel(ctx context.Context, effort string) error {
	if !effortLevels[effort] {
		return fmt.Errorf("agentsession: invalid effort %q", effort)
	}
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return err
	}
	model := sess.Model
	if model == "" {
		model = m.defaultModel
	}
	return m.setEffortFor(ctx, model, effort)
}

// CurrentModelAndEffort returns the session's current model and its
// effective effort, for /status and /effort.
func (m *Manager) CurrentModelAndEffort(ctx context.Context) (model, effort string, err error) {
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return "", "", err
	}
	model = sess.Model
	if model == "" {
		model = m.defaultModel
	}
	return model, m.effortFor(ctx, model), nil
}

// ToggleSparkModel implements toggleSparkModel (spec §4.3.5).
func (m *Manager) ToggleSparkModel(ctx context.Context) (model, effort string, err error) {
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return "", "", err
	}
	current := sess.Model
	if current == "" {
		current = m.defaultModel
	}

	if current != m.sparkModel {
		currentEffort := m.effortFor(ctx, current)
		target := store.SparkReturnTarget{Model: current, Effort: currentEffort}
		if err := m.store.SetFlagJSON(ctx, store.FlagSparkReturnTarget, target); err != nil {
			return "", "", err
		}
		if err := m.store.SetSessionModel(ctx, m.phoneNumber, m.sparkModel); err != nil {
			return "", "", err
		}
		return m.sparkModel, m.effortFor(ctx, m.sparkModel), nil
	}

	var target store.SparkReturnTarget
	found, err := m.store.GetFlagJSON(ctx, store.FlagSparkReturnTarget, &target)
	if err != nil {
		return "", "", err
	}
	if err := m.store.DeleteFlag(ctx, store.FlagSparkReturnTarget); err != nil {
		return "", "", err
	}

	restoreModel := m.defaultModel
	restoreEffort := "medium"
	if found && target.Model != "" {
		restoreModel = target.Model
		restoreEffort = target.Effort
	}
	if err := m.store.SetSessionModel(ctx, m.phoneNumber, restoreModel); err != nil {
		return "", "", err
	}
	if restoreEffort != "" {
		if err := m.setEffortFor(ctx, restoreModel, restoreEffort); err != nil {
			return "", "", err
		}
	}
	return restoreModel, m.effortFor(ctx, restoreModel), nil
}

func (m *Manager) effortFor(ctx context.Context, model string) string {
	effortMap := m.loadEffortMap(ctx)
	if effort, ok := effortMap[model]; ok && effort != "" {
		return effort
	}
	if model == m.sparkModel {
		return "xhigh"
	}
	return "medium"
}

func (m *Manager) setEffortFor(ctx context.Context, model, effort string) error {
	effortMap := m.loadEffortMap(ctx)
	if effortMap == nil {
		effortMap = map[string]string{}
	}
	effortMap[model] = effort
	return m.store.SetFlagJSON(ctx, store.FlagReasoningEffortByModel, effortMap)
}

func (m *Manager) loadEffortMap(ctx context.Context) map[string]string {
	var effortMap map[string]string
	found, err := m.store.GetFlagJSON(ctx, store.FlagReasoningEffortByModel, &effortMap)
	if err != nil || !found {
		return map[string]string{}
	}
	return effortMap
}

// IsSpark reports whether model is this session's configured spark model.
func (m *Manager) IsSpark(model string) bool {
	return model == m.sparkModel
}
