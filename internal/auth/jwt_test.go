package auth

import (
	"testing"
)

func TestGenerateAndValidateOperatorToken(t *testing.T) {
	service := NewTokenService("test-secret")

	token, err := service.GenerateOperatorToken("op-1")
	if err != nil {
		t.Fatalf("GenerateOperatorToken failed: %v", err)
	}

	claims, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.OperatorID != "op-1" {
		t.Errorf("expected operator op-1, got %s", claims.OperatorID)
	}
	if claims.Role != "operator" {
		t.Errorf("expected role operator, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a").GenerateOperatorToken("op-1")
	if err != nil {
		t.Fatalf("GenerateOperatorToken failed: %v", err)
	}

	if _, err := NewTokenService("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := NewTokenService("secret").ValidateToken("not.a.token"); err == nil {
		t.Fatal("expected validation failure for malformed token")
	}
}
