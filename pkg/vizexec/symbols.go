package vizexec

import (
	"reflect"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

// Import paths under which the binding packages are visible to interpreted code.
const (
	FrameImportPath = "sqlviz/frame"
	VizImportPath   = "sqlviz/viz"
)

// bindingSymbols exposes the frame and viz packages to the interpreter.
var bindingSymbols = map[string]map[string]reflect.Value{
	FrameImportPath + "/frame": {
		"Column":      reflect.ValueOf((*frame.Column)(nil)),
		"Frame":       reflect.ValueOf((*frame.Frame)(nil)),
		"New":         reflect.ValueOf(frame.New),
		"Empty":       reflect.ValueOf(frame.Empty),
		"FormatValue": reflect.ValueOf(frame.FormatValue),
		"ToFloat":     reflect.ValueOf(frame.ToFloat),
	},
	VizImportPath + "/viz": {
		"Artifact":  reflect.ValueOf((*viz.Artifact)(nil)),
		"Bindings":  reflect.ValueOf((*viz.Bindings)(nil)),
		"Chart":     reflect.ValueOf((*viz.Chart)(nil)),
		"ChartType": reflect.ValueOf((*viz.ChartType)(nil)),
		"Kind":      reflect.ValueOf((*viz.Kind)(nil)),
		"Series":    reflect.ValueOf((*viz.Series)(nil)),

		"KindText":     reflect.ValueOf(viz.KindText),
		"KindTable":    reflect.ValueOf(viz.KindTable),
		"KindChart":    reflect.ValueOf(viz.KindChart),
		"ChartBar":     reflect.ValueOf(viz.ChartBar),
		"ChartLine":    reflect.ValueOf(viz.ChartLine),
		"ChartScatter": reflect.ValueOf(viz.ChartScatter),
		"ChartPie":     reflect.ValueOf(viz.ChartPie),
		"TextBinding":  reflect.ValueOf(viz.TextBinding),
		"TableBinding": reflect.ValueOf(viz.TableBinding),
		"ChartBinding": reflect.ValueOf(viz.ChartBinding),

		"Text":    reflect.ValueOf(viz.Text),
		"Textf":   reflect.ValueOf(viz.Textf),
		"Table":   reflect.ValueOf(viz.Table),
		"Bar":     reflect.ValueOf(viz.Bar),
		"Line":    reflect.ValueOf(viz.Line),
		"Pie":     reflect.ValueOf(viz.Pie),
		"Scatter": reflect.ValueOf(viz.Scatter),
	},
}
