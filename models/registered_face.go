package models

import (
	"faceserver/db"
	"faceserver/faces"
)

// RegisteredFace remembers who a face indexed in a collection belongs to
type RegisteredFace struct {
	ID              uint64 `gorm:"primaryKey" json:"-"`
	CreatedAt       int64  `json:"createdAt"`
	CollectionID    string `gorm:"type:varchar(255);index:collection_face,unique,priority:1;not null" json:"collectionId"`
	FaceID          string `gorm:"type:varchar(64);index:collection_face,unique,priority:2;not null" json:"faceId"`
	ExternalImageID string `gorm:"type:varchar(255)" json:"externalImageId"`
	PersonName      string `gorm:"type:varchar(255)" json:"personName"`
	FileName        string `gorm:"type:varchar(300)" json:"fileName"`
}

func SaveRegisteredFaces(collectionID, personName, fileName string, indexed []faces.IndexedFace) error {
	if len(indexed) == 0 {
		return nil
	}
	records := make([]RegisteredFace, 0, len(indexed))
	for _, f := range indexed {
		records = append(records, RegisteredFace{
			CollectionID:    collectionID,
			FaceID:          f.FaceID,
			ExternalImageID: f.ExternalImageID,
			PersonName:      personName,
			FileName:        fileName,
		})
	}
	return db.Instance.Create(&records).Error
}

// RegisteredFacesByID returns the known faces of a collection keyed by face ID
func RegisteredFacesByID(collectionID string) (map[string]RegisteredFace, error) {
	list := []RegisteredFace{}
	if err := db.Instance.Where("collection_id = ?", collectionID).Find(&list).Error; err != nil {
		return nil, err
	}
	result := make(map[string]RegisteredFace, len(list))
	for _, f := range list {
		result[f.FaceID] = f
	}
	return result, nil
}

func DeleteRegisteredFace(collectionID, faceID string) error {
	return db.Instance.Where("collection_id = ? AND face_id = ?", collectionID, faceID).Delete(&RegisteredFace{}).Error
}

func DeleteCollectionFaces(collectionID string) error {
	return db.Instance.Where("collection_id = ?", collectionID).Delete(&RegisteredFace{}).Error
}
