package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/account-service/internal/core/domain"
)

const (
	identitiesCollection    = "identities"
	rolesCollection         = "roles"
	identityRolesCollection = "identity_roles"
)

// CredentialStore implements ports.CredentialStore on MongoDB. Uniqueness is
// enforced by unique indexes created in NewCredentialStore.
type CredentialStore struct {
	db         *mongo.Database
	identities *mongo.Collection
	roles      *mongo.Collection
	links      *mongo.Collection
}

type mongoIdentity struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Email           string             `bson:"email"`
	NormalizedEmail string             `bson:"normalized_email"`
	PasswordHash    string             `bson:"password_hash"`
	EmailConfirmed  bool               `bson:"email_confirmed"`
	CreatedAt       int64              `bson:"created_at"`
}

type mongoRole struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
}

type mongoIdentityRole struct {
	IdentityID primitive.ObjectID `bson:"identity_id"`
	RoleID     primitive.ObjectID `bson:"role_id"`
}

// NewCredentialStore binds the store to db and ensures its indexes exist.
func NewCredentialStore(ctx context.Context, db *mongo.Database) (*CredentialStore, error) {
	s := &CredentialStore{
		db:         db,
		identities: db.Collection(identitiesCollection),
		roles:      db.Collection(rolesCollection),
		links:      db.Collection(identityRolesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CredentialStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	indexes := []struct {
		coll *mongo.Collection
		keys bson.D
	}{
		{s.identities, bson.D{{Key: "normalized_email", Value: 1}}},
		{s.roles, bson.D{{Key: "name", Value: 1}}},
		{s.links, bson.D{{Key: "identity_id", Value: 1}, {Key: "role_id", Value: 1}}},
	}
	for _, idx := range indexes {
		model := mongo.IndexModel{Keys: idx.keys, Options: options.Index().SetUnique(true)}
		if _, err := idx.coll.Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), classify(err))
		}
	}
	return nil
}

func (s *CredentialStore) FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var mi mongoIdentity
	err := s.identities.FindOne(ctx, bson.M{"normalized_email": domain.NormalizeEmail(email)}).Decode(&mi)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("find identity: %w", classify(err))
	}
	return mi.toDomain(), nil
}

// CreateIdentity inserts the identity and its role links. Standalone
// deployments have no multi-document transactions, so the identity is
// removed again when the links cannot be written.
func (s *CredentialStore) CreateIdentity(ctx context.Context, identity *domain.Identity, roleIDs ...string) (*domain.Identity, error) {
	rids, err := parseRoleIDs(roleIDs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := s.rolesExist(ctx, rids...); err != nil {
		return nil, err
	}

	doc := mongoIdentity{
		Email:           identity.Email,
		NormalizedEmail: domain.NormalizeEmail(identity.Email),
		PasswordHash:    identity.PasswordHash,
		EmailConfirmed:  identity.EmailConfirmed,
		CreatedAt:       identity.CreatedAt.Unix(),
	}

	res, err := s.identities.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("insert identity: %w", classify(err))
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("insert identity: unexpected id type %T", res.InsertedID)
	}
	doc.ID = oid

	if len(rids) > 0 {
		links := make([]any, 0, len(rids))
		for _, rid := range rids {
			links = append(links, mongoIdentityRole{IdentityID: oid, RoleID: rid})
		}
		if _, err := s.links.InsertMany(ctx, links); err != nil {
			if _, derr := s.identities.DeleteOne(ctx, bson.M{"_id": oid}); derr != nil {
				return nil, fmt.Errorf("insert identity roles: %w (rollback: %v)", classify(err), derr)
			}
			return nil, fmt.Errorf("insert identity roles: %w", classify(err))
		}
	}
	return doc.toDomain(), nil
}

func (s *CredentialStore) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var mr mongoRole
	if err := s.roles.FindOne(ctx, bson.M{"name": name}).Decode(&mr); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, fmt.Errorf("find role: %w", classify(err))
	}
	return &domain.Role{ID: mr.ID.Hex(), Name: mr.Name}, nil
}

func (s *CredentialStore) CreateRole(ctx context.Context, name string) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.roles.InsertOne(ctx, mongoRole{Name: name})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrRoleExists
		}
		return nil, fmt.Errorf("insert role: %w", classify(err))
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("insert role: unexpected id type %T", res.InsertedID)
	}
	return &domain.Role{ID: oid.Hex(), Name: name}, nil
}

func (s *CredentialStore) AddIdentityToRole(ctx context.Context, identityID, roleID string) error {
	iid, err := primitive.ObjectIDFromHex(identityID)
	if err != nil {
		return domain.ErrIdentityNotFound
	}
	rid, err := primitive.ObjectIDFromHex(roleID)
	if err != nil {
		return domain.ErrRoleNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	n, err := s.identities.CountDocuments(ctx, bson.M{"_id": iid})
	if err != nil {
		return fmt.Errorf("count identity: %w", classify(err))
	}
	if n == 0 {
		return domain.ErrIdentityNotFound
	}
	if err := s.rolesExist(ctx, rid); err != nil {
		return err
	}

	if _, err := s.links.InsertOne(ctx, mongoIdentityRole{IdentityID: iid, RoleID: rid}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAssociationExists
		}
		return fmt.Errorf("insert identity role: %w", classify(err))
	}
	return nil
}

func (s *CredentialStore) RoleNamesForIdentity(ctx context.Context, identityID string) ([]string, error) {
	iid, err := primitive.ObjectIDFromHex(identityID)
	if err != nil {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"identity_id": iid}}},
		lookupStage(rolesCollection, "role_id", "role"),
		{{Key: "$unwind", Value: "$role"}},
		{{Key: "$project", Value: bson.M{"_id": 0, "name": "$role.name"}}},
		{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}}}},
	}

	cur, err := s.links.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("role names: %w", classify(err))
	}
	defer cur.Close(ctx)

	var docs []struct {
		Name string `bson:"name"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("role names decode: %w", classify(err))
	}

	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names, nil
}

// ListIdentityRoles joins identity_roles to identities and roles. $unwind
// drops links whose identity or role is missing, so only complete pairs are
// returned.
func (s *CredentialStore) ListIdentityRoles(ctx context.Context) ([]domain.UserRoleRow, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		lookupStage(identitiesCollection, "identity_id", "identity"),
		{{Key: "$unwind", Value: "$identity"}},
		lookupStage(rolesCollection, "role_id", "role"),
		{{Key: "$unwind", Value: "$role"}},
		{{Key: "$project", Value: bson.M{
			"_id":             0,
			"id":              "$identity._id",
			"email":           "$identity.email",
			"email_confirmed": "$identity.email_confirmed",
			"role":            "$role.name",
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "email", Value: 1}, {Key: "role", Value: 1}}}},
	}

	cur, err := s.links.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list identity roles: %w", classify(err))
	}
	defer cur.Close(ctx)

	var docs []struct {
		ID             primitive.ObjectID `bson:"id"`
		Email          string             `bson:"email"`
		EmailConfirmed bool               `bson:"email_confirmed"`
		Role           string             `bson:"role"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list identity roles decode: %w", classify(err))
	}

	rows := make([]domain.UserRoleRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, domain.UserRoleRow{
			ID:             d.ID.Hex(),
			Username:       d.Email,
			Email:          d.Email,
			EmailConfirmed: d.EmailConfirmed,
			Role:           d.Role,
		})
	}
	return rows, nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return classify(err)
	}
	return nil
}

// rolesExist returns domain.ErrRoleNotFound unless every id names a stored
// role.
func (s *CredentialStore) rolesExist(ctx context.Context, rids ...primitive.ObjectID) error {
	if len(rids) == 0 {
		return nil
	}
	n, err := s.roles.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": rids}})
	if err != nil {
		return fmt.Errorf("count roles: %w", classify(err))
	}
	if n != int64(len(rids)) {
		return domain.ErrRoleNotFound
	}
	return nil
}

func parseRoleIDs(ids []string) ([]primitive.ObjectID, error) {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, domain.ErrRoleNotFound
		}
		if _, dup := seen[oid]; dup {
			continue
		}
		seen[oid] = struct{}{}
		out = append(out, oid)
	}
	return out, nil
}

func lookupStage(from, localField, as string) bson.D {
	return bson.D{{Key: "$lookup", Value: bson.M{
		"from":         from,
		"localField":   localField,
		"foreignField": "_id",
		"as":           as,
	}}}
}

// classify marks connectivity failures as domain.ErrStoreUnavailable.
func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

func (mi mongoIdentity) toDomain() *domain.Identity {
	return &domain.Identity{
		ID:             mi.ID.Hex(),
		Email:          mi.Email,
		PasswordHash:   mi.PasswordHash,
		EmailConfirmed: mi.EmailConfirmed,
		CreatedAt:      unixToTime(mi.CreatedAt),
	}
}

func unixToTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
