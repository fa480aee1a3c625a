package replication

import "lsmrepl/pkg/types"

// Request and response bodies of the replication RPCs.

type HeartbeatRequest struct {
	LSN  types.LSN `json:"lsn"`
	Port int       `json:"port" validate:"required,min=1,max=65535"`
}

type HeartbeatResponse struct {
	LSN types.LSN `json:"lsn"`
}

type StateResponse struct {
	LSN        types.LSN `json:"lsn"`
	LastOnView types.LSN `json:"last_on_view"`
}

type ReplicaRequest struct {
	Range types.Range `json:"range"`
}

type LoadRequest struct {
	LSN types.LSN `json:"lsn"`
}

type LoadResponse struct {
	Files []types.FileMetaData `json:"files"`
}

type ChunkRequest struct {
	Chunk types.Chunk `json:"chunk"`
}

// ParticipantsResponse lists the accounting of a master.
type ParticipantsResponse struct {
	Participants []ParticipantState `json:"participants"`
}
