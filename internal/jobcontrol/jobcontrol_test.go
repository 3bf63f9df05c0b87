package jobcontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_IdleStepTransition(t *testing.T) {
	tbl := NewTable()

	tr, ok := tbl.Step(StateIdle, EventCtlStep)
	assert.True(t, ok)
	assert.Equal(t, StateStepping, tr.Next)
}

func TestTable_SteppingRetriesOnFailure(t *testing.T) {
	tbl := NewTable()

	tr, ok := tbl.Step(StateStepping, EventStepFailure)
	assert.True(t, ok)
	assert.Equal(t, StateStepping, tr.Next)
}

func TestTable_SteppingSucceedsToIdle(t *testing.T) {
	tbl := NewTable()

	tr, ok := tbl.Step(StateStepping, EventStepSuccess)
	assert.True(t, ok)
	assert.Equal(t, StateIdle, tr.Next)
}

func TestTable_DeathIsTerminalFromAnyState(t *testing.T) {
	tbl := NewTable()

	for _, s := range []State{StateIdle, StateStepping} {
		tr, ok := tbl.Step(s, EventSlaveDied)
		assert.Truef(t, ok, "expected a death transition from %s", s)
		assert.Equal(t, StateTerminal, tr.Next)
	}
}

func TestTable_UnknownTransition(t *testing.T) {
	tbl := NewTable()

	_, ok := tbl.Step(StateTerminal, EventCtlStep)
	assert.False(t, ok)
}

func TestTable_StatesInSpecOrder(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, []State{StateIdle, StateStepping}, tbl.States())
}
