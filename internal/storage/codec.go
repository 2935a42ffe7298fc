package storage

import (
	"encoding/json"
	"errors"

	"arithevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps records written by this build.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeMasteryEvents(events []model.MasteryEvent) ([]byte, error) {
	if events == nil {
		events = []model.MasteryEvent{}
	}
	return json.Marshal(events)
}

func DecodeMasteryEvents(data []byte) ([]model.MasteryEvent, error) {
	var events []model.MasteryEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	for _, event := range events {
		if err := checkVersion(event.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func EncodeRewardHistory(history []float64) ([]byte, error) {
	if history == nil {
		history = []float64{}
	}
	return json.Marshal(history)
}

func DecodeRewardHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
