package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Action type names accepted by NewAction.
const (
	ActionDeviceCommand = "device_command"
	ActionDelay         = "delay"
	ActionNotification  = "notification"
	ActionScene         = "scene"
	ActionWebhook       = "webhook"
	ActionCondition     = "condition"
)

// maxDelay caps a single delay action. Longer waits belong in a second
// rule with its own trigger.
const maxDelay = 1 * time.Hour

// Action is a side-effecting step executed when trigger and conditions
// both succeed. Execute returns a success flag, never an error: every
// variant converts its own failures to false and logs them, so one
// broken action cannot abort its siblings.
type Action interface {
	// Execute performs the action and reports success.
	Execute(ctx context.Context, ec *ExecutionContext) bool
}

// NewAction constructs an action from its type name and config.
// Returns an error for unknown types or malformed configs.
func NewAction(actionType string, config map[string]any, deps Deps) (Action, error) {
	switch actionType {
	case ActionDeviceCommand:
		return newDeviceCommandAction(config, deps)
	case ActionDelay:
		return newDelayAction(config)
	case ActionNotification:
		return newNotificationAction(config, deps)
	case ActionScene:
		return newSceneAction(config, deps)
	case ActionWebhook:
		return newWebhookAction(config, deps)
	case ActionCondition:
		return newConditionAction(config, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
}

// DeviceCommandAction sends one command to one device. Parameters may
// reference context values via $name.
type DeviceCommandAction struct {
	deviceID string
	command  string
	params   map[string]any

	commander Commander
	logger    Logger
}

func newDeviceCommandAction(config map[string]any, deps Deps) (*DeviceCommandAction, error) {
	deviceID, ok := getString(config, "device_id")
	if !ok {
		return nil, fmt.Errorf("%w: device_command requires \"device_id\"", ErrInvalidActionConfig)
	}
	command, ok := getString(config, "command")
	if !ok {
		return nil, fmt.Errorf("%w: device_command requires \"command\"", ErrInvalidActionConfig)
	}

	a := &DeviceCommandAction{
		deviceID:  deviceID,
		command:   command,
		commander: deps.Commander,
		logger:    deps.log(),
	}
	if params, ok := getMap(config, "params"); ok {
		a.params = params
	}
	return a, nil
}

func (a *DeviceCommandAction) Execute(ctx context.Context, ec *ExecutionContext) bool {
	params := ResolveParams(a.params, ec)

	if err := a.commander.SendCommand(ctx, a.deviceID, a.command, params); err != nil {
		a.logger.Warn("device command failed",
			"device_id", a.deviceID,
			"command", a.command,
			"error", err,
		)
		return false
	}
	return true
}

// DelayAction suspends the current action sequence. The sequence runs
// on its own goroutine, so the delay never stalls the engine's loops.
type DelayAction struct {
	duration time.Duration
}

func newDelayAction(config map[string]any) (*DelayAction, error) {
	hours, _ := getFloat(config, "hours")
	minutes, _ := getFloat(config, "minutes")
	seconds, _ := getFloat(config, "seconds")

	total := time.Duration((hours*3600 + minutes*60 + seconds) * float64(time.Second))
	if total <= 0 {
		return nil, fmt.Errorf("%w: delay requires a positive duration", ErrInvalidActionConfig)
	}
	if total > maxDelay {
		return nil, fmt.Errorf("%w: delay exceeds maximum of %s", ErrInvalidActionConfig, maxDelay)
	}

	return &DelayAction{duration: total}, nil
}

func (a *DelayAction) Execute(ctx context.Context, _ *ExecutionContext) bool {
	select {
	case <-time.After(a.duration):
		return true
	case <-ctx.Done():
		return false
	}
}

// NotificationAction renders ${path} templates in the title and message
// and hands the result to the notifier. Delivery to external channels
// is out of scope here; the notifier persists the notification event.
type NotificationAction struct {
	title   string
	message string
	data    map[string]any

	notifier Notifier
	logger   Logger
}

func newNotificationAction(config map[string]any, deps Deps) (*NotificationAction, error) {
	message, ok := getString(config, "message")
	if !ok {
		return nil, fmt.Errorf("%w: notification requires \"message\"", ErrInvalidActionConfig)
	}

	a := &NotificationAction{
		message:  message,
		notifier: deps.Notifier,
		logger:   deps.log(),
	}
	a.title, _ = getString(config, "title")
	if data, ok := getMap(config, "data"); ok {
		a.data = data
	}
	return a, nil
}

func (a *NotificationAction) Execute(ctx context.Context, ec *ExecutionContext) bool {
	if a.notifier == nil {
		a.logger.Warn("notification dropped: no notifier configured")
		return false
	}

	title := ResolveString(a.title, ec)
	message := ResolveString(a.message, ec)
	data := ResolveParams(a.data, ec)

	a.notifier.Notify(ctx, title, message, data)
	return true
}

// sceneStep is one device command inside a scene action.
type sceneStep struct {
	deviceID string
	command  string
	params   map[string]any
}

// SceneAction executes an ordered list of device commands sequentially.
// A failing step is logged and fails the scene as a whole, but every
// remaining step still executes: a dead bulb must not stop the blinds.
type SceneAction struct {
	steps []sceneStep

	commander Commander
	logger    Logger
}

func newSceneAction(config map[string]any, deps Deps) (*SceneAction, error) {
	raw, ok := getSlice(config, "actions")
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: scene requires \"actions\"", ErrInvalidActionConfig)
	}

	steps := make([]sceneStep, 0, len(raw))
	for i, item := range raw {
		stepConfig, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: scene action %d is not an object", ErrInvalidActionConfig, i)
		}
		deviceID, ok := getString(stepConfig, "device_id")
		if !ok {
			return nil, fmt.Errorf("%w: scene action %d requires \"device_id\"", ErrInvalidActionConfig, i)
		}
		command, ok := getString(stepConfig, "command")
		if !ok {
			return nil, fmt.Errorf("%w: scene action %d requires \"command\"", ErrInvalidActionConfig, i)
		}
		step := sceneStep{deviceID: deviceID, command: command}
		if params, ok := getMap(stepConfig, "params"); ok {
			step.params = params
		}
		steps = append(steps, step)
	}

	return &SceneAction{
		steps:     steps,
		commander: deps.Commander,
		logger:    deps.log(),
	}, nil
}

func (a *SceneAction) Execute(ctx context.Context, ec *ExecutionContext) bool {
	allOK := true
	for _, step := range a.steps {
		params := ResolveParams(step.params, ec)
		if err := a.commander.SendCommand(ctx, step.deviceID, step.command, params); err != nil {
			a.logger.Warn("scene step failed",
				"device_id", step.deviceID,
				"command", step.command,
				"error", err,
			)
			allOK = false
			// No short-circuit: remaining steps still execute
		}
	}
	return allOK
}

// WebhookAction performs an outbound HTTP call. The body is template
// resolved before sending. Any non-2xx status or transport error fails
// the action.
type WebhookAction struct {
	url     string
	method  string
	headers map[string]string
	body    map[string]any

	client *http.Client
	logger Logger
}

func newWebhookAction(config map[string]any, deps Deps) (*WebhookAction, error) {
	url, ok := getString(config, "url")
	if !ok {
		return nil, fmt.Errorf("%w: webhook requires \"url\"", ErrInvalidActionConfig)
	}

	a := &WebhookAction{
		url:    url,
		method: http.MethodPost,
		client: deps.httpClient(),
		logger: deps.log(),
	}
	if method, ok := getString(config, "method"); ok {
		a.method = method
	}
	if headers, ok := getMap(config, "headers"); ok {
		a.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			a.headers[k] = toString(v)
		}
	}
	if body, ok := getMap(config, "body"); ok {
		a.body = body
	}
	return a, nil
}

func (a *WebhookAction) Execute(ctx context.Context, ec *ExecutionContext) bool {
	var bodyReader *bytes.Reader
	if a.body != nil {
		resolved := ResolveParams(a.body, ec)
		data, err := json.Marshal(resolved)
		if err != nil {
			a.logger.Warn("webhook body marshal failed", "url", a.url, "error", err)
			return false
		}
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.url, bodyReader)
	if err != nil {
		a.logger.Warn("webhook request build failed", "url", a.url, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("webhook call failed", "url", a.url, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.logger.Warn("webhook returned non-2xx", "url", a.url, "status", resp.StatusCode)
		return false
	}
	return true
}

// ConditionAction evaluates a nested condition and executes the then
// branch when true, the else branch when false. The executed branch's
// results are combined with AND.
type ConditionAction struct {
	condition   Condition
	thenActions []Action
	elseActions []Action
}

func newConditionAction(config map[string]any, deps Deps) (*ConditionAction, error) {
	condObj, ok := getMap(config, "condition")
	if !ok {
		return nil, fmt.Errorf("%w: condition action requires \"condition\"", ErrInvalidActionConfig)
	}
	condType, ok := getString(condObj, "type")
	if !ok {
		return nil, fmt.Errorf("%w: nested condition missing \"type\"", ErrInvalidActionConfig)
	}
	condConfig, _ := getMap(condObj, "config")
	condition, err := NewCondition(condType, condConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("nested condition: %w", err)
	}

	thenActions, err := buildActionList(config, "then_actions", deps)
	if err != nil {
		return nil, err
	}
	elseActions, err := buildActionList(config, "else_actions", deps)
	if err != nil {
		return nil, err
	}
	if len(thenActions) == 0 && len(elseActions) == 0 {
		return nil, fmt.Errorf("%w: condition action requires then_actions or else_actions", ErrInvalidActionConfig)
	}

	return &ConditionAction{
		condition:   condition,
		thenActions: thenActions,
		elseActions: elseActions,
	}, nil
}

// buildActionList constructs the actions under the given config key.
func buildActionList(config map[string]any, key string, deps Deps) ([]Action, error) {
	raw, ok := getSlice(config, key)
	if !ok {
		return nil, nil
	}

	actions := make([]Action, 0, len(raw))
	for i, item := range raw {
		actionObj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrInvalidActionConfig, key, i)
		}
		actionType, ok := getString(actionObj, "type")
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] missing \"type\"", ErrInvalidActionConfig, key, i)
		}
		actionConfig, _ := getMap(actionObj, "config")
		action, err := NewAction(actionType, actionConfig, deps)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (a *ConditionAction) Execute(ctx context.Context, ec *ExecutionContext) bool {
	branch := a.elseActions
	if a.condition.Evaluate(ctx, ec) {
		branch = a.thenActions
	}

	allOK := true
	for _, action := range branch {
		if !action.Execute(ctx, ec) {
			allOK = false
		}
	}
	return allOK
}
