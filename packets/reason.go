package packets

// MQTT 5.0 reason codes shared between ack packets, CONNACK and DISCONNECT.
const (
	ReasonSuccess                  byte = 0x00
	ReasonNormalDisconnection      byte = 0x00
	ReasonGrantedQoS0              byte = 0x00
	ReasonGrantedQoS1              byte = 0x01
	ReasonGrantedQoS2              byte = 0x02
	ReasonDisconnectWithWill       byte = 0x04
	ReasonNoMatchingSubscribers    byte = 0x10
	ReasonNoSubscriptionExisted    byte = 0x11
	ReasonUnspecifiedError         byte = 0x80
	ReasonMalformedPacket          byte = 0x81
	ReasonProtocolError            byte = 0x82
	ReasonImplementationSpecific   byte = 0x83
	ReasonUnsupportedProtocolVer   byte = 0x84
	ReasonClientIdentifierNotValid byte = 0x85
	ReasonBadUsernameOrPassword    byte = 0x86
	ReasonNotAuthorized            byte = 0x87
	ReasonServerUnavailable        byte = 0x88
	ReasonServerBusy               byte = 0x89
	ReasonBanned                   byte = 0x8A
	ReasonServerShuttingDown       byte = 0x8B
	ReasonKeepAliveTimeout         byte = 0x8D
	ReasonSessionTakenOver         byte = 0x8E
	ReasonTopicFilterInvalid       byte = 0x8F
	ReasonTopicNameInvalid         byte = 0x90
	ReasonPacketIdentifierInUse    byte = 0x91
	ReasonPacketIdentifierNotFound byte = 0x92
	ReasonReceiveMaximumExceeded   byte = 0x93
	ReasonTopicAliasInvalid        byte = 0x94
	ReasonPacketTooLarge           byte = 0x95
	ReasonMessageRateTooHigh       byte = 0x96
	ReasonQuotaExceeded            byte = 0x97
	ReasonAdministrativeAction     byte = 0x98
	ReasonPayloadFormatInvalid     byte = 0x99
	ReasonRetainNotSupported       byte = 0x9A
	ReasonQoSNotSupported          byte = 0x9B
	ReasonUseAnotherServer         byte = 0x9C
	ReasonServerMoved              byte = 0x9D
	ReasonSharedSubNotSupported    byte = 0x9E
	ReasonConnectionRateExceeded   byte = 0x9F
	ReasonMaximumConnectTime       byte = 0xA0
	ReasonSubIDsNotSupported       byte = 0xA1
	ReasonWildcardSubNotSupported  byte = 0xA2
)

// MQTT 3.1.1 CONNACK return codes.
const (
	V3Accepted               byte = 0x00
	V3RefusedBadProtocolVer  byte = 0x01
	V3RefusedIDRejected      byte = 0x02
	V3RefusedServerUnavail   byte = 0x03
	V3RefusedBadCredentials  byte = 0x04
	V3RefusedNotAuthorized   byte = 0x05
)

// V3ConnAckCode maps a v5 CONNACK reason code onto the closest v3.1.1
// return code.
func V3ConnAckCode(reason byte) byte {
	switch reason {
	case ReasonSuccess:
		return V3Accepted
	case ReasonUnsupportedProtocolVer:
		return V3RefusedBadProtocolVer
	case ReasonClientIdentifierNotValid:
		return V3RefusedIDRejected
	case ReasonServerUnavailable, ReasonServerBusy, ReasonServerShuttingDown:
		return V3RefusedServerUnavail
	case ReasonBadUsernameOrPassword:
		return V3RefusedBadCredentials
	case ReasonNotAuthorized, ReasonBanned:
		return V3RefusedNotAuthorized
	default:
		return V3RefusedServerUnavail
	}
}
