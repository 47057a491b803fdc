/*
cell-tester - Charge/discharge cycle tester for rechargeable cells
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package telemetry formats cell readings and phase results and sends them to
// MQTT, a serial line or the log.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/cell-tester/internal/cell"
)

// Message is a single publish request.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Publisher is implemented by every telemetry sink.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// Result is the outcome of one discharge phase.
type Result struct {
	Slot        int       `json:"slot"`
	Cycle       int       `json:"cycle"`
	DurationS   float64   `json:"duration_s"`
	CapacityMAh float64   `json:"capacity_mah"`
	EnergyMWh   float64   `json:"energy_mwh"`
	Finished    time.Time `json:"finished"`
}

type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

func StateTopic(prefix string, slot int) string {
	return fmt.Sprintf("%s/%d/state", prefix, slot)
}

func ResultTopic(prefix string, slot int) string {
	return fmt.Sprintf("%s/%d/result", prefix, slot)
}

// StatusTopic carries the online announcement and the MQTT last will.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// FormatOnline returns the payload for the status topic.
func FormatOnline(online bool) string {
	payload, _ := json.Marshal(OnlineState{
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

// PublishReading sends a reading to the slot's state topic.
func PublishReading(pub Publisher, prefix string, retained bool, r cell.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshalling reading: %w", err)
	}
	return pub.Publish(Message{Topic: StateTopic(prefix, r.Slot), Payload: string(payload), Retained: retained})
}

// PublishResult sends a discharge result to the slot's result topic.
func PublishResult(pub Publisher, prefix string, retained bool, res Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling result: %w", err)
	}
	return pub.Publish(Message{Topic: ResultTopic(prefix, res.Slot), Payload: string(payload), Retained: retained})
}

// FormatReading is the human readable discharge line.
func FormatReading(r cell.Reading) string {
	return fmt.Sprintf("t = %.2f (s)  U = %.5f (V)  I = %.5f (mA)  P = %.2f (mW)  C = %.2f (mAh)  e = %.2f (mWh)",
		r.ElapsedS, r.VoltageV, r.CurrentMA, r.PowerMW, r.CapacityMAh, r.EnergyMWh)
}

// Multi fans a message out to several publishers. Every publisher is tried
// even if an earlier one fails.
type Multi []Publisher

func (m Multi) Publish(msg Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
