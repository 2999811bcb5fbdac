package check

import (
	"testing"

	"gotest.tools/assert"
)

type pointerReceiver struct {
	Name string
}

func (p *pointerReceiver) Validate() []error {
	return []error{
		NotEmpty(p.Name, "name must be set"),
	}
}

type valueReceiver struct {
	Streaming bool
}

func (v valueReceiver) Validate() []error {
	return []error{
		True(v.Streaming, "streaming must be enabled"),
	}
}

type parent struct {
	Children []valueReceiver
	ByName   map[string]*pointerReceiver
	Missing  *pointerReceiver
}

func TestMethodSets(t *testing.T) {
	p := pointerReceiver{}
	v := valueReceiver{}

	err := Validate(p)
	assert.ErrorContains(t, err, "error found at root: name must be set: value is empty")
	err = Validate(&p)
	assert.ErrorContains(t, err, "error found at root: name must be set: value is empty")
	err = Validate(v)
	assert.ErrorContains(t, err, "error found at root: streaming must be enabled: expected true, got false")
	err = Validate(&v)
	assert.ErrorContains(t, err, "error found at root: streaming must be enabled: expected true, got false")
}

func TestValidateNested(t *testing.T) {
	err := Validate(parent{
		Children: []valueReceiver{{Streaming: true}, {}},
		ByName:   map[string]*pointerReceiver{"app": {}},
	})
	assert.ErrorContains(t, err, "2 errors found")
	assert.ErrorContains(t, err, "error found at root.Children[1]")
	assert.ErrorContains(t, err, "error found at root.ByName[app]")

	assert.NilError(t, Validate(parent{
		Children: []valueReceiver{{Streaming: true}},
		ByName:   map[string]*pointerReceiver{"app": {Name: "a"}},
	}))
}
