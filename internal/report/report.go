// Package report renders a per-project review page: how the classes are
// distributed across manual and predicted labels, and where the model is
// still uncertain. The analyst uses it to judge when the labeling loop can
// stop.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/marianaschaefer/geoapi/internal/classify"
)

// entropyBins is the histogram resolution over the [0,1] entropy range.
const entropyBins = 10

// Render writes the HTML report for a project's current classification view.
func Render(w io.Writer, projectName string, views []classify.SegmentView) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Classification report: %s", projectName)
	page.AddCharts(classDistribution(views), uncertaintyHistogram(views))
	return page.Render(w)
}

// classDistribution is a stacked bar of manual vs predicted label counts per
// class.
func classDistribution(views []classify.SegmentView) components.Charter {
	manual := make(map[string]int)
	predicted := make(map[string]int)
	for _, v := range views {
		if v.Class == "" {
			continue
		}
		if v.Manual {
			manual[v.Class]++
		} else {
			predicted[v.Class]++
		}
	}

	classes := make([]string, 0, len(manual)+len(predicted))
	seen := make(map[string]bool)
	for c := range manual {
		seen[c] = true
	}
	for c := range predicted {
		seen[c] = true
	}
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	manualData := make([]opts.BarData, len(classes))
	predictedData := make([]opts.BarData, len(classes))
	for i, c := range classes {
		manualData[i] = opts.BarData{Value: manual[c]}
		predictedData[i] = opts.BarData{Value: predicted[c]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Class distribution", Subtitle: "segments per class, manual vs predicted"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(classes)
	bar.AddSeries("manual", manualData)
	bar.AddSeries("predicted", predictedData)
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "labels"}))
	return bar
}

// uncertaintyHistogram buckets segment entropy into fixed bins. A heavy right
// tail means the model still wants more samples.
func uncertaintyHistogram(views []classify.SegmentView) components.Charter {
	counts := make([]int, entropyBins)
	for _, v := range views {
		if v.Uncertainty == nil {
			continue
		}
		bin := int(*v.Uncertainty * entropyBins)
		if bin >= entropyBins {
			bin = entropyBins - 1
		}
		if bin < 0 {
			bin = 0
		}
		counts[bin]++
	}

	labels := make([]string, entropyBins)
	data := make([]opts.BarData, entropyBins)
	for i := 0; i < entropyBins; i++ {
		labels[i] = fmt.Sprintf("%.1f-%.1f", float64(i)/entropyBins, float64(i+1)/entropyBins)
		data[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Uncertainty histogram", Subtitle: "normalized entropy per segment"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("segments", data)
	return bar
}
