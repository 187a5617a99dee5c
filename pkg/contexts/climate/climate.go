// Package climate implements the climate_data_utility context: retrieving,
// regridding, plotting and saving NetCDF datasets held in a Python kernel.
package climate

import (
	"context"
	"embed"
	"encoding/base64"
	"fmt"

	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
)

const (
	Slug     = "climate_data_utility"
	Language = "python3"
	// Resource is the HMI collection holding datasets.
	Resource = "datasets"
	// DatasetVar receives downloaded datasets.
	DatasetVar = "dataset"
)

//go:embed procedures
var procedures embed.FS

// Kind registers the context.
func Kind() contexts.Kind {
	return contexts.Kind{
		Slug:        Slug,
		Language:    Language,
		Description: "Retrieve, regrid, plot and save NetCDF climate datasets.",
		Procedures:  procedures,
		New:         New,
	}
}

// Context is a climate_data_utility instance.
type Context struct {
	*contexts.Base
}

// New creates an instance that is not set up yet.
func New(env contexts.Env) (contexts.Context, error) {
	c := &Context{Base: contexts.NewBase(Slug, Language, env)}
	c.State().VarName = DatasetVar

	c.Register("download_dataset_request", []string{"uuid"}, c.download)
	c.Register("save_dataset_request", []string{"dataset", "filename"}, c.save)

	err := c.SetTools(
		agent.CodeCellTool("regrid_dataset", Language,
			"Regrid a dataset onto a new latitude/longitude resolution. Returns code for the user to run.",
			[]agent.Param{
				{Name: "dataset", Type: "identifier", Description: "Variable holding the dataset.", Required: true},
				{Name: "target_resolution", Type: "[float]", Description: "Target resolution as [lat, lon] in degrees.", Required: true},
				{Name: "aggregation", Type: "string", Description: "Aggregation over merged cells (mean, sum, max, min) or interp.", Default: "mean"},
				{Name: "result", Type: "identifier", Description: "Variable receiving the regridded dataset.", Default: "regridded_dataset"},
			},
			c.CodeCell("regrid_dataset"),
		),
		agent.CodeCellTool("plot_dataset", Language,
			"Plot one variable of a dataset. Returns code for the user to run.",
			[]agent.Param{
				{Name: "dataset", Type: "identifier", Description: "Variable holding the dataset.", Required: true},
				{Name: "variable", Type: "string", Description: "Data variable to plot.", Required: true},
				{Name: "time_index", Type: "int", Description: "Time step to plot.", Default: 0},
			},
			c.CodeCell("plot_dataset"),
		),
		agent.DirectTool("list_datasets",
			"List the datasets currently loaded in the notebook.",
			nil,
			c.listDatasets,
		),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Setup imports the dataset libraries.
func (c *Context) Setup(ctx context.Context, config map[string]any, parent *domain.Header) error {
	if err := c.Execute(ctx, "setup", nil, parent); err != nil {
		return err
	}
	c.State().Config = config
	c.MarkReady()
	return nil
}

// AutoContext describes the dataset tools for the agent.
func (c *Context) AutoContext() string {
	return `You are a software engineer working on a climate dataset operations tool in a Jupyter notebook.

Your goal is to help users perform operations on climate datasets, such as regridding NetCDF datasets and plotting or previewing NetCDF files.
The tools also retrieve datasets from a storage server and save them back.

Remember to provide accurate information and avoid guessing if you are unsure of an answer.
`
}

func (c *Context) download(ctx context.Context, msg domain.Message) error {
	var req struct {
		UUID     string `json:"uuid"`
		Filename string `json:"filename"`
	}
	if err := contexts.Decode(msg.Content, &req); err != nil {
		return err
	}
	if req.Filename == "" {
		req.Filename = req.UUID + ".nc"
	}

	store, err := contexts.Store(c.Env().HMI, "HMI_SERVER_URL")
	if err != nil {
		return err
	}
	url, err := store.DownloadURL(ctx, Resource, req.UUID, req.Filename)
	if err != nil {
		return err
	}

	if err := c.Execute(ctx, "hmi_dataset_download", map[string]any{
		"url":      url,
		"filename": req.Filename,
	}, &msg.Header); err != nil {
		return err
	}

	c.Send(ctx, "download_dataset_response", map[string]any{
		"uuid":     req.UUID,
		"filename": req.Filename,
		"var_name": DatasetVar,
	}, &msg.Header)
	return nil
}

// save creates a dataset record, then uploads the kernel variable named by
// dataset to it as NetCDF.
func (c *Context) save(ctx context.Context, msg domain.Message) error {
	var req struct {
		Dataset  string `json:"dataset"`
		Filename string `json:"filename"`
	}
	if err := contexts.Decode(msg.Content, &req); err != nil {
		return err
	}

	code, err := c.Render(ctx, "dataset_to_netcdf", map[string]any{"dataset": req.Dataset})
	if err != nil {
		return err
	}
	store, err := contexts.Store(c.Env().HMI, "HMI_SERVER_URL")
	if err != nil {
		return err
	}

	created, err := store.Create(ctx, Resource, domain.Document{
		"name":      req.Filename,
		"fileNames": []any{req.Filename},
	})
	if err != nil {
		return err
	}
	id, _ := created["id"].(string)
	if id == "" {
		return fmt.Errorf("%w: created dataset has no id", domain.ErrRemoteFetch)
	}

	eval, err := c.Env().Interpreter.Evaluate(ctx, code, &msg.Header)
	if err != nil {
		return err
	}
	encoded, ok := eval.Return.(string)
	if !ok {
		return fmt.Errorf("dataset_to_netcdf returned %T, want a base64 string", eval.Return)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode %s: %w", req.Dataset, err)
	}

	if err := store.Upload(ctx, Resource, id, req.Filename, content); err != nil {
		return err
	}
	c.Logger().Info("dataset saved", "id", id, "filename", req.Filename, "bytes", len(content))

	c.Send(ctx, "save_dataset_response", map[string]any{
		"dataset_create_status": map[string]any(created),
		"file_upload_status": map[string]any{
			"id":       id,
			"filename": req.Filename,
			"size":     len(content),
		},
	}, &msg.Header)
	return nil
}

func (c *Context) listDatasets(ctx context.Context, _ map[string]any) (any, error) {
	eval, err := c.Evaluate(ctx, "list_datasets", nil, nil)
	if err != nil {
		return nil, err
	}
	return eval.Return, nil
}
