package driver

import (
	"fmt"
	"math/rand"
)

const (
	DefaultOperandMin = 1
	DefaultOperandMax = 10
)

// OperandSource supplies the two operands of each interaction.
type OperandSource interface {
	Operands() (a, b int)
}

// UniformOperands draws both operands independently from [Min, Max].
type UniformOperands struct {
	Rand *rand.Rand
	Min  int
	Max  int
}

func NewUniformOperands(rng *rand.Rand, min, max int) (*UniformOperands, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if min > max {
		return nil, fmt.Errorf("operand range is empty: min=%d max=%d", min, max)
	}
	return &UniformOperands{Rand: rng, Min: min, Max: max}, nil
}

func (u *UniformOperands) Operands() (int, int) {
	span := u.Max - u.Min + 1
	return u.Min + u.Rand.Intn(span), u.Min + u.Rand.Intn(span)
}

// FixedOperands always presents the same pair.
type FixedOperands struct {
	A int
	B int
}

func (f FixedOperands) Operands() (int, int) {
	return f.A, f.B
}
