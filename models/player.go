package models

// PlayerProfile is the durable directory record this core reads (never
// writes) for display names.
type PlayerProfile struct {
	PlayerID    string `dynamodbav:"playerId" json:"playerId"`
	DisplayName string `dynamodbav:"displayName" json:"displayName"`
}

// PlayerProfilesTable is the DynamoDB table name for player profiles
const PlayerProfilesTable = "PlayerProfiles"
