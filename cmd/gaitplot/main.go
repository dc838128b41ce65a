// Command gaitplot renders the fin waveform families to PNG for gait
// tuning: one line per actuator index, angle against time.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
	"github.com/Peppe-Grasso/metasepia-brain/waveform"
)

var (
	out        = flag.String("out", "gait.png", "output PNG path")
	amplitude  = flag.Float64("amplitude", 15, "fin deflection amplitude in degrees")
	wavelength = flag.Float64("wavelength", findrive.DriveWavelength, "waveform wavelength")
	fins       = flag.Int("fins", findrive.NumFins, "actuator count along the bank")
	kindName   = flag.String("kind", "", "waveform kind (empty = all four)")
	samples    = flag.Int("samples", 200, "time samples across two wavelengths")
)

func main() {
	flag.Parse()

	kinds := []waveform.Kind{waveform.Sine, waveform.Flat, waveform.Standing, waveform.SineAndFlat}
	if *kindName != "" {
		kind, err := waveform.ParseKind(*kindName)
		if err != nil {
			log.Fatal(err)
		}
		if err := plotKind(kind, *out); err != nil {
			log.Fatal(err)
		}
		return
	}

	for _, kind := range kinds {
		if err := plotKind(kind, kindPath(*out, kind)); err != nil {
			log.Fatal(err)
		}
	}
}

// kindPath inserts the kind name before the output file's extension.
func kindPath(out string, kind waveform.Kind) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + "_" + kind.String() + ext
}

// plotKind renders one waveform family over two wavelengths.
func plotKind(kind waveform.Kind, path string) error {
	fn := kind.Func()
	if fn == nil {
		return fmt.Errorf("no angle function for kind %s", kind)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s waveform, amplitude %.0f°, wavelength %.0f", kind, *amplitude, *wavelength)
	p.X.Label.Text = "time (ms-equivalent)"
	p.Y.Label.Text = "angle (deg)"

	args := make([]interface{}, 0, 2*(*fins))
	for i := 0; i < *fins; i++ {
		pts := make(plotter.XYs, *samples)
		for s := 0; s < *samples; s++ {
			t := 2 * *wavelength * float64(s) / float64(*samples-1)
			pts[s].X = t
			pts[s].Y = fn(*amplitude, *wavelength, t, i, *fins)
		}
		args = append(args, fmt.Sprintf("fin %d", i), pts)
	}
	if err := plotutil.AddLines(p, args...); err != nil {
		return err
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
