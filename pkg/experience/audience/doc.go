/*
Package audience evaluates audience rules against a profile.

# Overview

An Audience is a named segment with a rule. A profile belongs to the audience
when the rule evaluates to true against the profile's JSON document. The
reference profile store uses this to fill Profile.Audiences on every upsert.

# Rule Syntax

	<rule> := <comparison>
	        | <rule> 'and' <rule>
	        | <rule> 'or' <rule>
	        | 'not' <rule>
	        | '!' <rule>
	        | <value>

	<comparison> := <value> <op> <value>
	<op> := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains' | 'like'
	<value> := 'string' | "string" | number | true | false | null | path

Paths are gjson paths into the profile document, such as traits.plan,
location.country, or audiences.0. A path that does not exist resolves to
null.

The rule is split on the first " and ", then the first " or ", so and binds
loosest. Quoted strings must not contain " and " or " or ".

# Operators

	==         Equal (string comparison)
	!=         Not equal (string comparison)
	<  >  <= >= Numeric comparison
	contains   Left contains right as a substring
	like       Left matches the glob on the right ('*@acme.com')

# Examples

	traits.plan == 'pro'
	traits.visits >= 3 and location.country == 'DE'
	traits.email like '*@acme.com'
	not traits.churned

# Truthiness

A lone value is true unless it is null, false, an empty string, or zero.
*/
package audience
