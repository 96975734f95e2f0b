package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/care-assets/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestStaff() models.Staff {
	return models.Staff{
		Username:     "nurse.kim",
		Email:        "kim@rosewood.example",
		PasswordHash: "hashedpassword",
		Role:         models.RoleMaintenance,
		FirstName:    "Kim",
		LastName:     "Lee",
		Facility:     "Rosewood Lodge",
	}
}

func TestMongoStaffCollection_InsertAndFind(t *testing.T) {
	database := testDatabase(t)
	collection := database.Collection(models.StaffCollection)
	staffCollection := &MongoStaffCollection{Collection: collection}

	staff := newTestStaff()
	require.NoError(t, staffCollection.InsertStaff(context.Background(), staff))

	var inserted models.Staff
	err := collection.FindOne(context.Background(), bson.M{"username": staff.Username}).Decode(&inserted)
	require.NoError(t, err)
	assert.True(t, inserted.IsActive)
	assert.NotZero(t, inserted.CreatedAt)

	found, err := staffCollection.FindStaffByID(context.Background(), inserted.ID.Hex())
	assert.NoError(t, err)
	assert.Equal(t, staff.Email, found.Email)

	found, err = staffCollection.FindStaffByUsername(context.Background(), staff.Username)
	assert.NoError(t, err)
	assert.Equal(t, staff.Facility, found.Facility)

	found, err = staffCollection.FindStaffByEmail(context.Background(), staff.Email)
	assert.NoError(t, err)
	assert.Equal(t, staff.Username, found.Username)

	_, err = staffCollection.FindStaffByID(context.Background(), "invalid-id")
	assert.Error(t, err)
	_, err = staffCollection.FindStaffByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStaffCollection_UpdateLastLogin(t *testing.T) {
	database := testDatabase(t)
	collection := database.Collection(models.StaffCollection)
	staffCollection := &MongoStaffCollection{Collection: collection}

	require.NoError(t, staffCollection.InsertStaff(context.Background(), newTestStaff()))
	var inserted models.Staff
	require.NoError(t, collection.FindOne(context.Background(), bson.M{"username": "nurse.kim"}).Decode(&inserted))

	require.NoError(t, staffCollection.UpdateLastLogin(context.Background(), inserted.ID.Hex()))

	updated, err := staffCollection.FindStaffByID(context.Background(), inserted.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, updated.LastLogin)
	assert.False(t, updated.LastLogin.Before(inserted.CreatedAt))
}
