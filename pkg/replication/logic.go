package replication

import (
	"context"
	"fmt"
)

// LogicID names the behaviors the replication stage switches between.
type LogicID uint8

const (
	LogicBasic LogicID = iota
	LogicRequest
	LogicLoad
)

func (id LogicID) String() string {
	switch id {
	case LogicBasic:
		return "BASIC"
	case LogicRequest:
		return "REQUEST"
	case LogicLoad:
		return "LOAD"
	}
	return fmt.Sprintf("LOGIC(%d)", uint8(id))
}

// Logic is one step of the stage. A nil error means the step completed,
// possibly after switching the stage to another logic.
type Logic interface {
	ID() LogicID
	Run(ctx context.Context) error
}
