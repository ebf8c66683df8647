package world

import (
	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
)

// spawn points, handed out in the order players are added.
var spawnPositions = [protocol.MaxPlayers]protocol.Vector3{
	{X: -8, Y: 5, Z: 0},
	{X: -4, Y: 5, Z: 4},
	{X: 8, Y: 5, Z: 0},
	{X: 4, Y: 5, Z: -4},
	{X: 0, Y: 5, Z: 8},
	{X: 0, Y: 5, Z: -8},
	{X: -4, Y: 5, Z: -4},
	{X: 4, Y: 5, Z: 4},
}

type Player struct {
	ID       protocol.PlayerID
	Position protocol.Vector3

	// ActiveInputs holds only "began" bits: an input is active from its press
	// edge until its release edge.
	ActiveInputs uint32
}

// Active reports whether input index is currently held.
func (p *Player) Active(index uint) bool {
	return p.ActiveInputs&protocol.InputMask(index, true) != 0
}

func (p *Player) applyInput(input *protocol.UserInput) {
	for i := uint(0); i < protocol.InputCount; i++ {
		began := protocol.InputMask(i, true)
		ended := protocol.InputMask(i, false)

		if input.Inputs&began != 0 {
			p.ActiveInputs |= began
		}
		if input.Inputs&ended != 0 {
			p.ActiveInputs &^= began
		}
	}
}

// World is the in-memory player registry the network layer keeps in sync.
// simulation and rendering live elsewhere and read from it.
type World struct {
	players []*Player
}

func New() *World {
	return &World{}
}

// Init resets the world to empty.
func (w *World) Init() error {
	w.players = nil
	return nil
}

func (w *World) Players() []*Player {
	return w.players
}

// GetPlayer returns nil if there is no such player.
func (w *World) GetPlayer(id protocol.PlayerID) *Player {
	for _, p := range w.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AddPlayer places a new player at the next free spawn point.
func (w *World) AddPlayer(id protocol.PlayerID) {
	debug.Assertf(len(w.players) < len(spawnPositions), "no spawn point left for player %d", id)
	w.addPlayer(id, spawnPositions[len(w.players)])
}

func (w *World) addPlayer(id protocol.PlayerID, position protocol.Vector3) *Player {
	debug.Assert(id != protocol.NoPlayer, "cannot add reserved player id")
	debug.Assertf(w.GetPlayer(id) == nil, "player %d already exists", id)

	p := &Player{ID: id, Position: position}
	w.players = append(w.players, p)
	return p
}

func (w *World) GetState(out *protocol.WorldState) {
	out.Players = make([]protocol.PlayerInfo, len(w.players))
	for i, p := range w.players {
		out.Players[i] = protocol.PlayerInfo{
			PlayerID: p.ID,
			Position: p.Position,
		}
	}
}

// SetState adopts an authoritative snapshot: players we have not heard of are
// added, everyone's position is overwritten.
func (w *World) SetState(in *protocol.WorldState) {
	for _, info := range in.Players {
		p := w.GetPlayer(info.PlayerID)
		if p == nil {
			w.addPlayer(info.PlayerID, info.Position)
			continue
		}
		p.Position = info.Position
	}
}

func (w *World) ApplyInput(input *protocol.UserInput) {
	p := w.GetPlayer(input.PlayerID)
	debug.Assertf(p != nil, "input for unknown player %d", input.PlayerID)
	p.applyInput(input)
}
