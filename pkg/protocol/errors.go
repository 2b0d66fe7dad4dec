// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

// ErrorCode is the error taxonomy shared by the SPU protocol and the client API.
type ErrorCode int16

const (
	ErrorNone                  ErrorCode = 0
	ErrorUnknown               ErrorCode = -1
	ErrorAlreadyExists         ErrorCode = 1
	ErrorNotFound              ErrorCode = 2
	ErrorConfigInvalid         ErrorCode = 3
	ErrorInsufficientResources ErrorCode = 4
	ErrorUnknownSpu            ErrorCode = 5
	ErrorInvalidRequest        ErrorCode = 6
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "None"
	case ErrorAlreadyExists:
		return "AlreadyExists"
	case ErrorNotFound:
		return "NotFound"
	case ErrorConfigInvalid:
		return "ConfigInvalid"
	case ErrorInsufficientResources:
		return "InsufficientResources"
	case ErrorUnknownSpu:
		return "UnknownSpu"
	case ErrorInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}
