package models

import (
	"faceserver/db"

	"github.com/sirupsen/logrus"
)

func Init() {
	for _, model := range []any{&VideoJob{}, &RegisteredFace{}} {
		if err := db.Instance.AutoMigrate(model); err != nil {
			logrus.WithError(err).Errorf("Auto-migrate error for %T", model)
		}
	}
}
