package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BlockID identifies a time block.
//
// Older data written by the browser client stored millisecond timestamps as
// JSON numbers; those decode into their decimal string form.
type BlockID string

// UnmarshalJSON accepts both string and numeric ids.
func (id *BlockID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = BlockID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("block id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = BlockID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = BlockID(n.String())
	return nil
}

// TimeBlock is a user-created slot scheduling a task on a given day.
//
// TaskID is a weak reference: the task may disappear from the remote list and
// the block stays valid. TaskText is a snapshot taken at creation.
type TimeBlock struct {
	ID        BlockID `json:"id"`
	TaskID    string  `json:"taskId"`
	TaskText  string  `json:"taskText"`
	StartTime string  `json:"startTime"` // HH:MM
	EndTime   string  `json:"endTime"`   // HH:MM
	Date      string  `json:"date"`      // YYYY-MM-DD
	IsDone    bool    `json:"isDone"`
}
