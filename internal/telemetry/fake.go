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

package telemetry

// FakePublisher records every published Message so tests can inspect them.
type FakePublisher struct {
	Messages     []Message
	PublishError error
	Closed       bool
}

func (f *FakePublisher) Publish(msg Message) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// Find returns the last Message published on topic.
func (f *FakePublisher) Find(topic string) (Message, bool) {
	for i := len(f.Messages) - 1; i >= 0; i-- {
		if f.Messages[i].Topic == topic {
			return f.Messages[i], true
		}
	}
	return Message{}, false
}

// Count returns how many messages were published on topic.
func (f *FakePublisher) Count(topic string) int {
	n := 0
	for _, m := range f.Messages {
		if m.Topic == topic {
			n++
		}
	}
	return n
}
