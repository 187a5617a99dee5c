package miramodel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/kernelctx/internal/testutils"
	"github.com/aretw0/kernelctx/pkg/adapters/storage"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/contexts/miramodel"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const previewCall = "json.dumps(template_model_to_petrinet_json(model))"

func sirModel(schema string) domain.Document {
	return domain.Document{
		"header": map[string]any{"name": "SIR", "schema_name": schema},
		"model":  map[string]any{"states": []any{"S", "I", "R"}},
	}
}

func setup(t *testing.T, schema string, responses ...testutils.Response) (*testutils.Harness, contexts.Context) {
	t.Helper()
	responses = append(responses, testutils.Response{Match: previewCall, Return: map[string]any(sirModel(schema))})
	h := testutils.NewHarness(t, miramodel.Kind(), responses...)
	h.Data = testutils.NewDocuments(map[string]domain.Document{"models/sir": sirModel(schema)})
	h.Env.Data = h.Data

	c := h.New(t, miramodel.Kind())
	parent := domain.NewHeader("context_setup_request", "s1")
	require.NoError(t, c.Setup(context.Background(), map[string]any{"id": "sir"}, &parent))

	h.Interpreter.Reset()
	h.Events.Reset()
	return h, c
}

func message(action string, content map[string]any) domain.Message {
	return domain.Message{Header: domain.NewHeader(action, "s1"), Content: content}
}

func TestSetup_FetchesBindsAndPreviews(t *testing.T) {
	h := testutils.NewHarness(t, miramodel.Kind(), testutils.Response{Match: previewCall, Return: map[string]any(sirModel("petrinet"))})
	h.Data = testutils.NewDocuments(map[string]domain.Document{"models/sir": sirModel("petrinet")})
	h.Env.Data = h.Data
	c := h.New(t, miramodel.Kind())

	parent := domain.NewHeader("context_setup_request", "s1")
	require.NoError(t, c.Setup(context.Background(), map[string]any{"id": "sir"}, &parent))

	calls := h.Interpreter.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallExecute, calls[0].Kind)
	assert.Contains(t, calls[0].Code, "from mira.metamodel import *")
	assert.Contains(t, calls[0].Code, "model = model_from_json(")
	assert.Contains(t, calls[0].Code, "_model_orig = copy.deepcopy(model)")
	assert.Equal(t, domain.CallEvaluate, calls[1].Kind)
	assert.Equal(t, parent.MsgID, calls[1].Parent.MsgID)

	state := c.State()
	assert.True(t, state.Ready)
	assert.Equal(t, "sir", state.DocumentID)
	assert.Equal(t, "model", state.VarName)
	assert.Equal(t, "SIR", state.Original["header"].(map[string]any)["name"])

	previews := h.Events.OfType("model_preview")
	require.Len(t, previews, 1)
	assert.Equal(t, parent.MsgID, previews[0].Parent.MsgID)
	assert.Contains(t, c.AutoContext(), `"SIR"`)
}

func TestSetup_NotFoundFailsWithoutEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/missing", r.URL.Path)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	h := testutils.NewHarness(t, miramodel.Kind())
	h.Env.Data = storage.New(srv.URL)
	c := h.New(t, miramodel.Kind())

	err := c.Setup(context.Background(), map[string]any{"id": "missing"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.Empty(t, h.Events.Events())
	assert.Empty(t, h.Interpreter.Calls())
	assert.False(t, c.State().Ready)
}

func TestSetup_RequiresID(t *testing.T) {
	h := testutils.NewHarness(t, miramodel.Kind())
	c := h.New(t, miramodel.Kind())

	err := c.Setup(context.Background(), map[string]any{}, nil)
	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Empty(t, h.Events.Events())
}

func TestSetup_ModelURLForwardsCredentials(t *testing.T) {
	h := testutils.NewHarness(t, miramodel.Kind(), testutils.Response{Match: previewCall, Return: map[string]any(sirModel("petrinet"))})
	h.Env.Credentials = storage.StaticCredentials{Username: "user", Password: "secret"}
	c := h.New(t, miramodel.Kind())

	require.NoError(t, c.Setup(context.Background(), map[string]any{"model_url": "https://models.test/sir.json"}, nil))

	codes := h.Interpreter.Codes()
	require.Len(t, codes, 2)
	assert.Contains(t, codes[0], `requests.get("https://models.test/sir.json", auth=tuple(["user", "secret"]), timeout=10)`)
	assert.Equal(t, "SIR", c.State().Original["header"].(map[string]any)["name"])
	assert.Nil(t, c.State().Changes())
}

func TestMutation_RendersOnceAndEchoes(t *testing.T) {
	h, c := setup(t, "petrinet")

	content := map[string]any{"old_name": "I", "new_name": "Infected"}
	msg := message("replace_template_name", content)
	require.NoError(t, c.Handle(context.Background(), msg))

	calls := h.Interpreter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallExecute, calls[0].Kind)
	assert.Equal(t, msg.Header.MsgID, calls[0].Parent.MsgID)
	assert.Contains(t, calls[0].Code, `model = replace_template_name(model, "I", "Infected")`)

	events := h.Events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "replace_template_name_response", events[0].Type)
	assert.Equal(t, content, events[0].Content)
	assert.Equal(t, msg.Header.MsgID, events[0].Parent.MsgID)
	assert.Equal(t, "ctx-test", events[0].ContextID)
}

func TestMutation_MissingFieldNeverReachesInterpreter(t *testing.T) {
	h, c := setup(t, "petrinet")

	msg := message("replace_state_name", map[string]any{"template_name": "infection", "old_name": "I", "new_name": nil})
	err := c.Handle(context.Background(), msg)

	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"new_name"}, missing.Fields)
	assert.Empty(t, h.Interpreter.Calls())

	events := h.Events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeError, events[0].Type)
	assert.Equal(t, "MissingField", events[0].Content["ename"])
	assert.Equal(t, []any{"new_name"}, events[0].Content["fields"])
	assert.Equal(t, msg.Header.MsgID, events[0].Parent.MsgID)
}

func TestMutation_RemoteErrorIsRelayedAndReturned(t *testing.T) {
	remote := &domain.RemoteEvaluationError{
		Name:      "ValueError",
		Value:     "Template with name Nope not found in the given model",
		Traceback: []string{"Traceback (most recent call last):"},
	}
	h, c := setup(t, "petrinet", testutils.Response{Match: `"Nope"`, Err: remote})

	err := c.Handle(context.Background(), message("replace_template_name", map[string]any{"old_name": "Nope", "new_name": "x"}))
	require.ErrorIs(t, err, domain.ErrRemoteEvaluation)
	assert.Equal(t, remote.Error(), err.Error())

	events := h.Events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeError, events[0].Type)
	assert.Equal(t, "ValueError", events[0].Content["ename"])
	assert.Equal(t, remote.Value, events[0].Content["evalue"])
}

func TestMutation_StratifyFollowsSchema(t *testing.T) {
	content := map[string]any{"key": "age", "strata": []any{"young", "old"}}

	h, c := setup(t, "petrinet")
	require.NoError(t, c.Handle(context.Background(), message("stratify", content)))
	code := h.Interpreter.Codes()[0]
	assert.Contains(t, code, `strata=["young", "old"]`)
	assert.Contains(t, code, "structure=None,")
	assert.Contains(t, code, "modify_names=True,")

	h, c = setup(t, "regnet")
	require.NoError(t, c.Handle(context.Background(), message("stratify", content)))
	assert.Contains(t, h.Interpreter.Codes()[0], "structure=[],")
	assert.Equal(t, content, h.Events.OfType("stratify_response")[0].Content)
}

func TestMutation_AddParameterDefaults(t *testing.T) {
	h, c := setup(t, "petrinet")

	require.NoError(t, c.Handle(context.Background(), message("add_parameter", map[string]any{"parameter_id": "beta", "value": 0.4})))
	code := h.Interpreter.Codes()[0]
	assert.Contains(t, code, `model.add_parameter(`)
	assert.Contains(t, code, `"beta",`)
	assert.Contains(t, code, "value=0.4,")
	assert.Contains(t, code, "name=None,")
	assert.Contains(t, code, "distribution=None,")
}

func TestHandle_NotReadyAndUnknown(t *testing.T) {
	h := testutils.NewHarness(t, miramodel.Kind())
	c := h.New(t, miramodel.Kind())

	err := c.Handle(context.Background(), message("replace_template_name", map[string]any{"old_name": "I", "new_name": "J"}))
	assert.ErrorIs(t, err, domain.ErrContextNotReady)

	err = c.Handle(context.Background(), message("launch_rocket", nil))
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	assert.Empty(t, h.Interpreter.Calls())
	errs := h.Events.OfType(domain.EventTypeError)
	require.Len(t, errs, 2)
	assert.Equal(t, "ContextNotReady", errs[0].Content["ename"])
	assert.Equal(t, "UnknownAction", errs[1].Content["ename"])
}

func TestResetAndPostExecute(t *testing.T) {
	edited := sirModel("petrinet")
	edited["model"] = map[string]any{"states": []any{"S", "Infected", "R"}}

	h := testutils.NewHarness(t, miramodel.Kind(), testutils.Response{Match: previewCall, Return: map[string]any(edited)})
	h.Data = testutils.NewDocuments(map[string]domain.Document{"models/sir": sirModel("petrinet")})
	h.Env.Data = h.Data
	c := h.New(t, miramodel.Kind())
	require.NoError(t, c.Setup(context.Background(), map[string]any{"id": "sir"}, nil))

	diff := c.State().Changes()
	require.NotNil(t, diff)
	assert.Contains(t, diff.Changed, "model.states")

	require.NoError(t, c.PostExecute(context.Background(), nil))
	assert.Len(t, h.Events.OfType("model_preview"), 2)

	require.NoError(t, c.Handle(context.Background(), message("reset_model", map[string]any{})))
	assert.Nil(t, c.State().Changes())
	codes := h.Interpreter.Codes()
	assert.Contains(t, codes[len(codes)-1], "model = copy.deepcopy(_model_orig)")
	assert.Len(t, h.Events.OfType("reset_model_response"), 1)
}

func TestTools(t *testing.T) {
	h, c := setup(t, "petrinet")

	res, err := c.Invoke(context.Background(), "rename_template", map[string]any{"old_name": "I", "new_name": "Infected"})
	require.NoError(t, err)
	assert.True(t, res.Stop)
	require.NotNil(t, res.CodeCell)
	assert.Equal(t, "python3", res.CodeCell.Language)
	assert.True(t, strings.HasSuffix(res.CodeCell.Content, `model = replace_template_name(model, "I", "Infected")`))
	assert.Empty(t, h.Interpreter.Calls(), "code cell tools do not run code")

	res, err = c.Invoke(context.Background(), "stratify_model", map[string]any{"key": "age", "strata": []any{"young", "old"}})
	require.NoError(t, err)
	assert.False(t, res.Stop)
	codes := h.Interpreter.Codes()
	require.Len(t, codes, 2)
	assert.Contains(t, codes[0], "directed=False,")
	assert.Contains(t, codes[1], previewCall)

	_, err = c.Invoke(context.Background(), "rename_template", map[string]any{"old_name": "I"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	names := make([]string, 0)
	for _, tool := range c.Tools() {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"rename_template", "replace_state_name", "add_template", "stratify_model", "reset_model"}, names)
}
