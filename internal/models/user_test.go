package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "ada", (&User{Username: "ada", Email: "ada@uni.test"}).DisplayName())
	assert.Equal(t, "ada@uni.test", (&User{Email: "ada@uni.test"}).DisplayName())
}

func TestCalendarTableName(t *testing.T) {
	assert.Equal(t, "calendar_user_42", CalendarTableName(42))
}
