package climate_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aretw0/kernelctx/internal/testutils"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/contexts/climate"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var netcdf = []byte("CDF\x01 fake netcdf payload")

func newContext(t *testing.T) (*testutils.Harness, contexts.Context) {
	t.Helper()
	h := testutils.NewHarness(t, climate.Kind(),
		testutils.Response{Match: ".to_netcdf()", Return: base64.StdEncoding.EncodeToString(netcdf)},
		testutils.Response{Match: "isinstance(value, xarray.Dataset)", Return: []any{"dataset", "regridded_dataset"}},
	)
	c := h.New(t, climate.Kind())
	require.NoError(t, c.Setup(context.Background(), nil, nil))
	h.Interpreter.Reset()
	return h, c
}

func message(action string, content map[string]any) domain.Message {
	return domain.Message{Header: domain.NewHeader(action, "s1"), Content: content}
}

func TestDownload_DefaultsFilename(t *testing.T) {
	h, c := newContext(t)

	msg := message("download_dataset_request", map[string]any{"uuid": "abc"})
	require.NoError(t, c.Handle(context.Background(), msg))

	calls := h.Interpreter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallExecute, calls[0].Kind)
	assert.Contains(t, calls[0].Code, `requests.get("https://storage.test/datasets/abc/abc.nc"`)
	assert.Contains(t, calls[0].Code, "dataset = xarray.open_dataset(")
	assert.Equal(t, msg.Header.MsgID, calls[0].Parent.MsgID)

	events := h.Events.OfType("download_dataset_response")
	require.Len(t, events, 1)
	assert.Equal(t, "abc.nc", events[0].Content["filename"])
}

func TestDownload_RequiresUUID(t *testing.T) {
	h, c := newContext(t)

	err := c.Handle(context.Background(), message("download_dataset_request", map[string]any{"filename": "x.nc"}))
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"uuid"}, missing.Fields)
	assert.Empty(t, h.Interpreter.Calls())
	assert.Len(t, h.Events.OfType(domain.EventTypeError), 1)
}

func TestSave_CreatesThenUploads(t *testing.T) {
	h, c := newContext(t)

	msg := message("save_dataset_request", map[string]any{"dataset": "regridded_dataset", "filename": "out.nc"})
	require.NoError(t, c.Handle(context.Background(), msg))

	created := h.HMI.Created()
	require.Len(t, created, 1)
	assert.Equal(t, "out.nc", created[0]["name"])

	codes := h.Interpreter.Codes()
	require.Len(t, codes, 1)
	assert.Contains(t, codes[0], "base64.b64encode(regridded_dataset.to_netcdf())")

	uploads := h.HMI.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, testutils.Upload{Kind: "datasets", ID: created[0]["id"].(string), Filename: "out.nc", Content: netcdf}, uploads[0])

	events := h.Events.OfType("save_dataset_response")
	require.Len(t, events, 1)
	assert.Equal(t, created[0]["id"], events[0].Content["dataset_create_status"].(map[string]any)["id"])
	assert.Equal(t, len(netcdf), events[0].Content["file_upload_status"].(map[string]any)["size"])
}

func TestSave_RejectsUnsafeVariable(t *testing.T) {
	h, c := newContext(t)

	err := c.Handle(context.Background(), message("save_dataset_request", map[string]any{
		"dataset":  "ds; import os",
		"filename": "out.nc",
	}))
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Empty(t, h.Interpreter.Calls())
	assert.Empty(t, h.HMI.Created())
	assert.Empty(t, h.HMI.Uploads())
}

func TestSave_WithoutStorage(t *testing.T) {
	h := testutils.NewHarness(t, climate.Kind())
	h.Env.HMI = nil
	c := h.New(t, climate.Kind())
	require.NoError(t, c.Setup(context.Background(), nil, nil))

	err := c.Handle(context.Background(), message("save_dataset_request", map[string]any{"dataset": "ds", "filename": "out.nc"}))
	var cfg *domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "HMI_SERVER_URL", cfg.Key)
}

func TestTools(t *testing.T) {
	h, c := newContext(t)

	res, err := c.Invoke(context.Background(), "regrid_dataset", map[string]any{
		"dataset":           "dataset",
		"target_resolution": []any{1.0, 2.5},
	})
	require.NoError(t, err)
	assert.Contains(t, res.CodeCell.Content, `regridded_dataset = dataset.groupby_bins("lat", _lat).mean()`)
	assert.Contains(t, res.CodeCell.Content, "float(dataset.lon.max()), 2.5)")

	res, err = c.Invoke(context.Background(), "regrid_dataset", map[string]any{
		"dataset":           "dataset",
		"target_resolution": []any{1.0, 1.0},
		"aggregation":       "interp",
		"result":            "fine",
	})
	require.NoError(t, err)
	assert.Contains(t, res.CodeCell.Content, "fine = dataset.interp(lat=_lat, lon=_lon)")

	res, err = c.Invoke(context.Background(), "plot_dataset", map[string]any{"dataset": "dataset", "variable": "tas"})
	require.NoError(t, err)
	assert.Contains(t, res.CodeCell.Content, "_data = _data.isel(time=0)")

	res, err = c.Invoke(context.Background(), "list_datasets", nil)
	require.NoError(t, err)
	assert.Nil(t, res.CodeCell)
	assert.Equal(t, []any{"dataset", "regridded_dataset"}, res.Value)
	assert.Len(t, h.Interpreter.Calls(), 1)
}

func TestAutoContext(t *testing.T) {
	_, c := newContext(t)
	text := c.AutoContext()
	assert.Contains(t, text, "climate dataset operations")
	assert.Contains(t, text, "regridding NetCDF datasets")
}
