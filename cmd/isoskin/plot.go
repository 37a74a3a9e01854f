package main

import (
	"errors"
	"image/color"

	"github.com/soypat/isoskin/fit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotHistory saves a chart of the mean and maximum vertex residual after
// each fitting pass. Pass 0 is the skinning guess.
func plotHistory(filename string, history []fit.Report) error {
	if len(history) == 0 {
		return errors.New("no fitting history to plot")
	}
	mean := make(plotter.XYs, len(history))
	worst := make(plotter.XYs, len(history))
	for i, rep := range history {
		mean[i] = plotter.XY{X: float64(i), Y: rep.MeanResidual}
		worst[i] = plotter.XY{X: float64(i), Y: rep.MaxResidual}
	}
	p := plot.New()
	p.Title.Text = "Vertex residual |f(p) - base|"
	p.X.Label.Text = "pass"
	p.Y.Label.Text = "residual"
	p.Add(plotter.NewGrid())

	meanLine, err := plotter.NewLine(mean)
	if err != nil {
		return err
	}
	meanLine.LineStyle.Color = color.RGBA{R: 0x46, G: 0x89, B: 0x66, A: 0xff}
	meanLine.LineStyle.Width = vg.Points(1.5)
	worstLine, err := plotter.NewLine(worst)
	if err != nil {
		return err
	}
	worstLine.LineStyle.Color = color.RGBA{R: 0xb6, G: 0x40, B: 0x26, A: 0xff}
	worstLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(meanLine, worstLine)
	p.Legend.Add("mean", meanLine)
	p.Legend.Add("max", worstLine)
	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}
