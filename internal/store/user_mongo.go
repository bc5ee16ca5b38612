package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/accountd/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

// mongoUser is the document shape of a user. Secrets that are not pending
// are omitted from the document entirely.
type mongoUser struct {
	ID                    string     `bson:"_id"`
	Email                 string     `bson:"email"`
	Name                  string     `bson:"name"`
	PasswordHash          string     `bson:"passwordHash"`
	IsVerified            bool       `bson:"isVerified"`
	VerificationSecret    string     `bson:"verificationSecret,omitempty"`
	VerificationExpiresAt *time.Time `bson:"verificationExpiresAt,omitempty"`
	ResetSecret           string     `bson:"resetSecret,omitempty"`
	ResetExpiresAt        *time.Time `bson:"resetExpiresAt,omitempty"`
	LastLoginAt           *time.Time `bson:"lastLoginAt,omitempty"`
	CreatedAt             time.Time  `bson:"createdAt"`
	UpdatedAt             time.Time  `bson:"updatedAt"`
}

// MongoUserRepository handles persistence for users in a MongoDB collection.
type MongoUserRepository struct {
	users *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{users: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email index and the secret lookup indexes.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "verificationSecret", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "resetSecret", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) GetByVerificationSecret(ctx context.Context, code string, now time.Time) (types.User, error) {
	return r.findOne(ctx, bson.M{
		"verificationSecret":    code,
		"verificationExpiresAt": bson.M{"$gt": now},
	})
}

func (r *MongoUserRepository) GetByResetSecret(ctx context.Context, token string, now time.Time) (types.User, error) {
	return r.findOne(ctx, bson.M{
		"resetSecret":    token,
		"resetExpiresAt": bson.M{"$gt": now},
	})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, toMongoUser(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Update replaces the whole document, so cleared secrets disappear from it.
func (r *MongoUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	result, err := r.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, toMongoUser(user))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("replace user: %w", err)
	}
	if result.MatchedCount == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc mongoUser
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.toUser(), nil
}

func toMongoUser(user types.User) mongoUser {
	doc := mongoUser{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		IsVerified:   user.IsVerified,
		LastLoginAt:  user.LastLoginAt,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if user.Verification != nil {
		expires := user.Verification.ExpiresAt
		doc.VerificationSecret = user.Verification.Value
		doc.VerificationExpiresAt = &expires
	}
	if user.Reset != nil {
		expires := user.Reset.ExpiresAt
		doc.ResetSecret = user.Reset.Value
		doc.ResetExpiresAt = &expires
	}
	return doc
}

func (d mongoUser) toUser() types.User {
	user := types.User{
		ID:           d.ID,
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		IsVerified:   d.IsVerified,
		LastLoginAt:  d.LastLoginAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.VerificationSecret != "" && d.VerificationExpiresAt != nil {
		user.Verification = &types.PendingSecret{Value: d.VerificationSecret, ExpiresAt: *d.VerificationExpiresAt}
	}
	if d.ResetSecret != "" && d.ResetExpiresAt != nil {
		user.Reset = &types.PendingSecret{Value: d.ResetSecret, ExpiresAt: *d.ResetExpiresAt}
	}
	return user
}
