// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

const MaxLogLevel = logrus.TraceLevel

func init() {
	logger = logrus.New()
}

// SetLogger replaces the logger used by all probe sessions.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}

// sessionLog returns an entry tagged with the session a probe channel belongs to.
func sessionLog(session string) *logrus.Entry {
	return logger.WithField("session", session)
}
