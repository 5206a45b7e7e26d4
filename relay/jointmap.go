package relay

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/armlink/wire"
)

// JointMap maps controller joint slots to published joints.
type JointMap struct {
	// ControllerNames names the joint in each wire slot, in controller order.
	ControllerNames []string `yaml:"controller_names"`
	// Published lists the names to publish, in output order.
	// Empty publishes every controller joint in controller order.
	Published []string `yaml:"published,omitempty"`
	// Scale multiplies a joint's raw value. Missing entries scale by 1.
	Scale map[string]float64 `yaml:"scale,omitempty"`
	// Offset is added after scaling. Missing entries add 0.
	Offset map[string]float64 `yaml:"offset,omitempty"`
}

// DefaultJointMap names n joints joint_1..joint_n.
func DefaultJointMap(n int) JointMap {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("joint_%d", i+1)
	}
	return JointMap{ControllerNames: names}
}

// Validate checks names for duplicates, the wire limit and unknown
// published or scaled joints.
func (m JointMap) Validate() error {
	if len(m.ControllerNames) == 0 {
		return errors.New("joint map: no controller joints")
	}
	if len(m.ControllerNames) > wire.MaxJoints {
		return fmt.Errorf("joint map: %d controller joints exceeds wire limit %d", len(m.ControllerNames), wire.MaxJoints)
	}
	known := make(map[string]bool, len(m.ControllerNames))
	for _, name := range m.ControllerNames {
		if name == "" {
			return errors.New("joint map: empty controller joint name")
		}
		if known[name] {
			return fmt.Errorf("joint map: duplicate controller joint %q", name)
		}
		known[name] = true
	}
	seen := make(map[string]bool, len(m.Published))
	for _, name := range m.Published {
		if !known[name] {
			return fmt.Errorf("joint map: published joint %q is not a controller joint", name)
		}
		if seen[name] {
			return fmt.Errorf("joint map: joint %q published twice", name)
		}
		seen[name] = true
	}
	for name, s := range m.Scale {
		if !known[name] {
			return fmt.Errorf("joint map: scale for unknown joint %q", name)
		}
		if s == 0 {
			return fmt.Errorf("joint map: zero scale for joint %q", name)
		}
	}
	for name := range m.Offset {
		if !known[name] {
			return fmt.Errorf("joint map: offset for unknown joint %q", name)
		}
	}
	return nil
}

// transform is a compiled JointMap.
type transform struct {
	names  []string
	slots  []int
	scale  []float64
	offset []float64
}

func (m JointMap) compile() (*transform, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	slotOf := make(map[string]int, len(m.ControllerNames))
	for i, name := range m.ControllerNames {
		slotOf[name] = i
	}
	published := m.Published
	if len(published) == 0 {
		published = m.ControllerNames
	}

	t := &transform{
		names:  append([]string(nil), published...),
		slots:  make([]int, len(published)),
		scale:  make([]float64, len(published)),
		offset: make([]float64, len(published)),
	}
	for i, name := range published {
		t.slots[i] = slotOf[name]
		t.scale[i] = 1
		if s, ok := m.Scale[name]; ok {
			t.scale[i] = s
		}
		t.offset[i] = m.Offset[name]
	}
	return t, nil
}

// apply converts a wire joint array into published order and units.
// Rates (velocity, acceleration) are scaled but not offset.
func (t *transform) apply(j wire.Joints, rate bool) []float64 {
	out := make([]float64, len(t.slots))
	for i, slot := range t.slots {
		v := float64(j[slot]) * t.scale[i]
		if !rate {
			v += t.offset[i]
		}
		out[i] = v
	}
	return out
}
