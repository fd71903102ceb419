package main

import (
	"math"

	"github.com/loqalabs/loqa-tone/plugins/examples/internal/host"
)

// drawbar weights for the fundamental and the next three harmonics
var partials = [...]float64{1, 0.5, 0.25, 0.125}

var norm = func() float64 {
	var sum float64
	for _, w := range partials {
		sum += w
	}
	return sum
}()

var announced bool

//export generate
func generate(phase float64) float64 {
	if !announced {
		announced = true
		host.Log("organ plugin: 4 partials")
	}
	var v float64
	for i, w := range partials {
		v += w * math.Sin(2*math.Pi*float64(i+1)*phase)
	}
	return v / norm
}

func main() {}
