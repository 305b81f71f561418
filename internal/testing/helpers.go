package testing

import (
	"math/rand"
	"strings"
)

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet
func RandString() string {
	var out strings.Builder
	charSet := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	length := 10
	for i := 0; i < length; i++ {
		random := rand.Intn(len(charSet))
		randomChar := charSet[random]
		out.WriteString(string(randomChar))
	}
	return out.String()
}

// RandEmail generates a random address in the example.com domain
func RandEmail() string {
	return strings.ToLower(RandString()) + "@example.com"
}

// PairUserIDs splits a userIDs slice into pairs where the first element is
// the first provided userID e.g. [a, b, c] -> [[a,b], [a,c]]
func PairUserIDs(userIDs []string) [][]string {
	pairs := make([][]string, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, []string{userIDs[0], userIDs[i]})
	}

	return pairs
}

// ReverseIDs reverses provided ids
func ReverseIDs(ids []string) []string {
	reversed := make([]string, len(ids))
	copy(reversed, ids)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}
