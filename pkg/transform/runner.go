package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/quantpulse/symsync/pkg/models"
	"github.com/quantpulse/symsync/pkg/tabular"
)

var (
	// ErrScriptFailed is returned when the script raised a runtime or
	// syntax error
	ErrScriptFailed = errors.New("transformation script failed")
	// ErrScriptNoResult is returned when the script neither set a result
	// table nor mutated its input dataset
	ErrScriptNoResult = errors.New("transformation script produced no usable result")
	// ErrMalformedResult is returned when the script's output table does not
	// describe a dataset
	ErrMalformedResult = errors.New("transformation script returned a malformed dataset")
)

// Runner applies a transformation script to a dataset. Implementations are
// pure: the input dataset is never modified and no state is carried between
// invocations.
type Runner interface {
	Apply(ctx context.Context, script *models.TransformationScript, in *tabular.Dataset) (*tabular.Dataset, error)
}

type runner struct {
	log logrus.FieldLogger
	cfg *Config
}

// NewRunner creates a transformation runner
func NewRunner(log logrus.FieldLogger, cfg *Config) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &runner{
		log: log.WithField("component", "transform"),
		cfg: cfg,
	}, nil
}

// Apply runs script against a copy of in. The script sees a global `dataset`
// table ({columns = {...}, rows = {{...}, ...}}) and must either assign a
// table of the same shape to the global `result` or mutate `dataset` in
// place. Anything else fails with ErrScriptNoResult.
func (r *runner) Apply(ctx context.Context, script *models.TransformationScript, in *tabular.Dataset) (*tabular.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	if err := openSafeLibs(L); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptFailed, err)
	}

	L.SetGlobal("dataset", datasetToLua(L, in))

	if err := L.DoString(script.Content); err != nil {
		return nil, fmt.Errorf("%w: script %q v%d: %v", ErrScriptFailed, script.Name, script.Version, err)
	}

	// An explicitly produced result wins over in-place mutation
	if result, ok := L.GetGlobal("result").(*lua.LTable); ok {
		out, err := datasetFromLua(result)
		if err != nil {
			return nil, fmt.Errorf("%w: script %q v%d: %v", ErrMalformedResult, script.Name, script.Version, err)
		}
		return out, nil
	}

	mutated, ok := L.GetGlobal("dataset").(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: script %q v%d", ErrScriptNoResult, script.Name, script.Version)
	}

	out, err := datasetFromLua(mutated)
	if err != nil {
		return nil, fmt.Errorf("%w: script %q v%d: %v", ErrMalformedResult, script.Name, script.Version, err)
	}

	if out.Equal(in) {
		return nil, fmt.Errorf("%w: script %q v%d", ErrScriptNoResult, script.Name, script.Version)
	}

	return out, nil
}

// openSafeLibs loads only side-effect-free standard libraries. os, io and
// package stay closed so scripts cannot reach the host.
func openSafeLibs(l *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}

	for _, lib := range libs {
		if err := l.CallByParam(lua.P{
			Fn:      l.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}

	return nil
}

func datasetToLua(l *lua.LState, ds *tabular.Dataset) *lua.LTable {
	columns := l.NewTable()
	for _, col := range ds.Columns {
		columns.Append(lua.LString(col))
	}

	rows := l.NewTable()
	for _, row := range ds.Rows {
		r := l.NewTable()
		for _, cell := range row {
			r.Append(lua.LString(cell))
		}
		rows.Append(r)
	}

	tbl := l.NewTable()
	tbl.RawSetString("columns", columns)
	tbl.RawSetString("rows", rows)

	return tbl
}

func datasetFromLua(tbl *lua.LTable) (*tabular.Dataset, error) {
	columnsVal, ok := tbl.RawGetString("columns").(*lua.LTable)
	if !ok {
		return nil, errors.New("missing columns table")
	}

	rowsVal, ok := tbl.RawGetString("rows").(*lua.LTable)
	if !ok {
		return nil, errors.New("missing rows table")
	}

	ds := &tabular.Dataset{}

	columnsVal.ForEach(func(_, v lua.LValue) {
		ds.Columns = append(ds.Columns, lua.LVAsString(v))
	})

	var rowErr error
	rowsVal.ForEach(func(_, v lua.LValue) {
		rowTbl, rok := v.(*lua.LTable)
		if !rok {
			rowErr = errors.New("row is not a table")
			return
		}
		row := make([]string, 0, len(ds.Columns))
		rowTbl.ForEach(func(_, cell lua.LValue) {
			row = append(row, lua.LVAsString(cell))
		})
		ds.Rows = append(ds.Rows, row)
	})
	if rowErr != nil {
		return nil, rowErr
	}

	if len(ds.Columns) == 0 {
		return nil, errors.New("empty columns table")
	}

	return ds, nil
}
