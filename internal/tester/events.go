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

package tester

import (
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	eventTested = "cellTested"
	eventStuck  = "cellTesterStuck"
)

// EventReporter queues events for upload by the event reporter service.
type EventReporter interface {
	AddEvent(event eventclient.Event) error
}

type eventReporterClient struct{}

func (eventReporterClient) AddEvent(event eventclient.Event) error {
	return eventclient.AddEvent(event)
}

type noEvents struct{}

func (noEvents) AddEvent(eventclient.Event) error { return nil }

func newEvent(eventType string, details map[string]interface{}) eventclient.Event {
	return eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details:   details,
	}
}
