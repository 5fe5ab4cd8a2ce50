// Package garage is a small example model: cars with wheels, doors and an
// engine. It is used by the command line tool and by the fetcher tests.
package garage

import (
	"fmt"

	"flatfetch/internal/graph"
	"flatfetch/internal/naming"
	"flatfetch/internal/schema"

	"github.com/google/uuid"
)

// Base carries the primary key shared by all garage entities.
type Base struct {
	ID uuid.UUID `flatfetch:"id,pk" json:"id"`
}

type Car struct {
	Base
	Name     string        `flatfetch:"name" json:"name"`
	Wheels   []*Wheel      `flatfetch:",to_many,inverse=Car" json:"wheels,omitempty"`
	Doors    []*Door       `flatfetch:",to_many,inverse=Car" json:"doors,omitempty"`
	Engine   *Engine       `flatfetch:",to_one" json:"engine,omitempty"`
	EngineID uuid.NullUUID `flatfetch:"engine_id" json:"-"`
}

type Wheel struct {
	Base
	Position string    `flatfetch:"position" json:"position"`
	Car      *Car      `flatfetch:",to_one" json:"-"`
	CarID    uuid.UUID `flatfetch:"car_id" json:"car_id"`
}

type Door struct {
	Base
	Side  string    `flatfetch:"side" json:"side"`
	Car   *Car      `flatfetch:",to_one" json:"-"`
	CarID uuid.UUID `flatfetch:"car_id" json:"car_id"`
}

// Engine is the mapped side of Car.Engine. The back reference is kept
// unexported so that JSON encoding of a car does not cycle.
type Engine struct {
	Base
	Power int  `flatfetch:"power" json:"power"`
	car   *Car `flatfetch:",to_one,mapped,inverse=Engine"`
}

func (e *Engine) Car() *Car     { return e.car }
func (e *Engine) SetCar(c *Car) { e.car = c }

// Graph names.
const (
	CarFull    = "full"
	EngineFull = "Engine.full"
)

// Schema returns a registry holding the garage entities.
func Schema() *schema.Registry {
	return NewSchema(nil)
}

// NewSchema registers the garage entities with table names derived by namer.
func NewSchema(namer *naming.Namer) *schema.Registry {
	return schema.NewRegistry(namer).MustRegister(Car{}, Wheel{}, Door{}, Engine{})
}

// Graphs returns the fetch graphs of the garage model.
func Graphs() []*graph.Graph {
	return []*graph.Graph{
		graph.New(CarFull, "Car",
			graph.Attr("Wheels"),
			graph.Attr("Doors"),
			graph.Attr("Engine"),
		),
		graph.New(EngineFull, "Engine",
			graph.Attr("car", graph.Sub("Car",
				graph.Attr("Wheels"),
				graph.Attr("Doors"),
			)),
		),
	}
}

// GraphRegistry returns a graph registry holding Graphs.
func GraphRegistry() *graph.Registry {
	reg, err := graph.NewRegistry(Graphs()...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Sample builds n detached cars, each with four wheels, two doors and an
// engine, with foreign keys set but associations left empty. The returned
// slice lists every object, parents before children.
func Sample(n int) (cars []*Car, all []any) {
	positions := []string{"front-left", "front-right", "rear-left", "rear-right"}
	for i := range n {
		engine := &Engine{Base: Base{ID: uuid.New()}, Power: 100 + 10*i}
		car := &Car{
			Base:     Base{ID: uuid.New()},
			Name:     fmt.Sprintf("car-%d", i+1),
			EngineID: uuid.NullUUID{UUID: engine.ID, Valid: true},
		}
		cars = append(cars, car)
		all = append(all, engine, car)
		for _, pos := range positions {
			all = append(all, &Wheel{Base: Base{ID: uuid.New()}, Position: pos, CarID: car.ID})
		}
		for _, side := range []string{"left", "right"} {
			all = append(all, &Door{Base: Base{ID: uuid.New()}, Side: side, CarID: car.ID})
		}
	}
	return cars, all
}
