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

import "github.com/sirupsen/logrus"

// LogPublisher writes every message to the log at debug level. It is used
// when no other sink is configured.
type LogPublisher struct {
	Log *logrus.Logger
}

func (p LogPublisher) Publish(msg Message) error {
	p.Log.Debugf("%s %s", msg.Topic, msg.Payload)
	return nil
}

func (p LogPublisher) Close() error {
	return nil
}
