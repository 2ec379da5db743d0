package dynamo

import "github.com/zlnvch/whiteboard/models"

const sessionSK = "META"

func sessionPK(sessionId string) string {
	return "SESSION#" + sessionId
}

type dynamoSession struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	OwnerId    string `dynamodbav:"OwnerId"`
	OwnerName  string `dynamodbav:"OwnerName"`
	Created    int64  `dynamodbav:"Created"`
	LastClosed int64  `dynamodbav:"LastClosed"`
	Strokes    int    `dynamodbav:"Strokes"`
	Messages   int    `dynamodbav:"Messages"`
}

func sessionToDynamo(s models.Session) dynamoSession {
	return dynamoSession{
		PK:         sessionPK(s.Id),
		SK:         sessionSK,
		Id:         s.Id,
		OwnerId:    s.OwnerId,
		OwnerName:  s.OwnerName,
		Created:    s.Created,
		LastClosed: s.LastClosed,
		Strokes:    s.Strokes,
		Messages:   s.Messages,
	}
}

func sessionFromDynamo(ds dynamoSession) models.Session {
	return models.Session{
		Id:         ds.Id,
		OwnerId:    ds.OwnerId,
		OwnerName:  ds.OwnerName,
		Created:    ds.Created,
		LastClosed: ds.LastClosed,
		Strokes:    ds.Strokes,
		Messages:   ds.Messages,
	}
}
