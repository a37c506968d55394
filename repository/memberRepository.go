package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/assoctools/rolesync/entity"
)

// MemberRepository is the mongo-backed member store. It keeps the same
// load/save-everything contract as the file store; runs are serialized by
// the caller, so the delete-then-insert replace cannot interleave.
type MemberRepository struct {
	mongoClient  *mongo.Client
	databaseName string
}

func NewMemberRepository(mongoClient *mongo.Client, databaseName string) *MemberRepository {
	return &MemberRepository{
		mongoClient:  mongoClient,
		databaseName: databaseName,
	}
}

func (r *MemberRepository) collection() *mongo.Collection {
	return r.mongoClient.Database(r.databaseName).Collection("members")
}

func (r *MemberRepository) Load() (map[string]*entity.Member, error) {
	cursor, err := r.collection().Find(context.TODO(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}

	var members []*entity.Member
	if err := cursor.All(context.TODO(), &members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}

	result := make(map[string]*entity.Member, len(members))
	for _, member := range members {
		result[member.Email] = member
	}
	return result, nil
}

func (r *MemberRepository) Save(members map[string]*entity.Member) error {
	collection := r.collection()

	if _, err := collection.DeleteMany(context.TODO(), bson.M{}); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}

	if len(members) == 0 {
		return nil
	}

	docs := make([]any, 0, len(members))
	for _, member := range members {
		docs = append(docs, member)
	}

	if _, err := collection.InsertMany(context.TODO(), docs); err != nil {
		return fmt.Errorf("insert members: %w", err)
	}
	return nil
}
